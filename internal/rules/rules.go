// Package rules loads operator-written instruction files that get spliced
// into the system preamble.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Load reads every .md file in dir and joins them into one preamble block,
// each under a header naming its file. A missing directory is not an error;
// there are simply no rules.
func Load(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read rules dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var out strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read rule %s: %w", name, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		fmt.Fprintf(&out, "## %s\n%s", strings.TrimSuffix(name, ".md"), text)
	}
	return out.String(), nil
}
