package mcp

import "encoding/json"

// ServerConfig describes one tool server process. Loaded from settings and
// immutable afterwards.
type ServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
	Enabled bool              `json:"enabled"`
}

// ToolDescriptor describes a callable capability advertised by a server or by
// the native tool provider.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentBlock is one element of a tool result. Only "text" blocks carry a
// payload today; the kind tag leaves room for other block types.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the single shape every tool outcome is normalized to,
// whether it ran natively or on a remote server.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult builds a single-block text result.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult builds a single-block error-flagged result.
func ErrorResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// Text joins the text of every text block.
func (r ToolResult) Text() string {
	out := ""
	for _, block := range r.Content {
		if block.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += block.Text
	}
	return out
}

// State tracks a connection through its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitialized
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
