package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"quill/assistant/internal/diff"
)

const maxReadBytes = 2 * 1024 * 1024

// resolvePath joins rel onto the workspace root and refuses paths that would
// escape it.
func (p *Provider) resolvePath(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return p.root, nil
	}
	joined := filepath.Join(p.root, filepath.Clean(rel))
	relToRoot, err := filepath.Rel(p.root, joined)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return joined, nil
}

func (p *Provider) readFile(args map[string]any) (string, error) {
	rel, err := stringArg(args, "file_path")
	if err != nil {
		return "", err
	}
	path, err := p.resolvePath(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("read %s: file is %d bytes, limit is %d", rel, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

func (p *Provider) writeFile(args map[string]any) (string, error) {
	rel, err := stringArg(args, "file_path")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}
	path, err := p.resolvePath(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	p.logger.Debug("tools.file_written", "path", rel, "bytes", len(content))
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), rel), nil
}

func (p *Provider) editFile(args map[string]any) (string, error) {
	rel, err := stringArg(args, "file_path")
	if err != nil {
		return "", err
	}
	oldString, err := stringArg(args, "old_string")
	if err != nil {
		return "", err
	}
	newString, err := stringArg(args, "new_string")
	if err != nil {
		return "", err
	}
	if oldString == "" {
		return "", fmt.Errorf("old_string must not be empty")
	}
	path, err := p.resolvePath(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("edit %s: %w", rel, err)
	}
	before := string(data)
	switch count := strings.Count(before, oldString); {
	case count == 0:
		return "", fmt.Errorf("edit %s: old_string not found", rel)
	case count > 1:
		return "", fmt.Errorf("edit %s: old_string occurs %d times, must be unique", rel, count)
	}
	after := strings.Replace(before, oldString, newString, 1)
	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return "", fmt.Errorf("edit %s: %w", rel, err)
	}
	p.logger.Debug("tools.file_edited", "path", rel)
	rendered := diff.Render(diff.TextDiff(before, after))
	return fmt.Sprintf("Edited %s:\n%s", rel, rendered), nil
}

func (p *Provider) listFiles(args map[string]any) (string, error) {
	rel := ""
	if raw, ok := args["path"]; ok {
		value, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("argument %q must be a string", "path")
		}
		rel = value
	}
	path, err := p.resolvePath(rel)
	if err != nil {
		return "", err
	}

	var paths []string
	err = filepath.WalkDir(path, func(entry string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		relEntry, err := filepath.Rel(p.root, entry)
		if err != nil {
			return err
		}
		paths = append(paths, relEntry)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("list %s: %w", rel, err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return "(no files)", nil
	}
	return strings.Join(paths, "\n"), nil
}
