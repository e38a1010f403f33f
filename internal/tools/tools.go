// Package tools implements the capabilities the assistant runs in-process:
// file reads and writes under a workspace root, string-replacement edits with
// a diff rendered back to the model, directory listing, and shell commands.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"quill/assistant/internal/logging"
	"quill/assistant/internal/mcp"
)

// Descriptors lists every native tool with its argument schema. The set is
// static; the schemas are what the model sees in the system preamble.
var Descriptors = []mcp.ToolDescriptor{
	{
		Name:        "read_file",
		Description: "Read a file from the workspace and return its contents.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path relative to the workspace root"}
			},
			"required": ["file_path"]
		}`),
	},
	{
		Name:        "write_file",
		Description: "Create or overwrite a file in the workspace with the given content.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path relative to the workspace root"},
				"content": {"type": "string", "description": "Full file content to write"}
			},
			"required": ["file_path", "content"]
		}`),
	},
	{
		Name:        "edit_file",
		Description: "Replace one exact string in a file. old_string must occur exactly once. Returns a diff of the change.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path relative to the workspace root"},
				"old_string": {"type": "string", "description": "Exact text to replace"},
				"new_string": {"type": "string", "description": "Replacement text"}
			},
			"required": ["file_path", "old_string", "new_string"]
		}`),
	},
	{
		Name:        "list_files",
		Description: "List files under a workspace directory, one path per line.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory relative to the workspace root; defaults to the root"}
			},
			"required": []
		}`),
	},
	{
		Name:        "run_command",
		Description: "Run a shell command in the workspace root and return its combined output.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to execute"}
			},
			"required": ["command"]
		}`),
	},
}

// Provider executes the native tool set. All file paths resolve inside the
// workspace root; escaping it is refused.
type Provider struct {
	root   string
	logger *slog.Logger
}

func NewProvider(root string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{root: root, logger: logger.With("component", "tools")}
}

// Tools returns the static native tool descriptors.
func (p *Provider) Tools() []mcp.ToolDescriptor {
	return Descriptors
}

// Has reports whether name is a native tool.
func (p *Provider) Has(name string) bool {
	for _, d := range Descriptors {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Call executes a native tool. Tool failures come back as error-flagged
// results, never as Go errors.
func (p *Provider) Call(ctx context.Context, name string, args map[string]any) mcp.ToolResult {
	var (
		out string
		err error
	)
	switch name {
	case "read_file":
		out, err = p.readFile(args)
	case "write_file":
		out, err = p.writeFile(args)
	case "edit_file":
		out, err = p.editFile(args)
	case "list_files":
		out, err = p.listFiles(args)
	case "run_command":
		out, err = p.runCommand(ctx, args)
	default:
		err = fmt.Errorf("unknown native tool %q", name)
	}
	if err != nil {
		p.logger.Warn("tools.call_failed", "tool", name, "error", err.Error())
		return mcp.ErrorResult(err.Error())
	}
	return mcp.TextResult(out)
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return value, nil
}
