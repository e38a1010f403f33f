package agent

import (
	"context"
	"fmt"

	"log/slog"

	"quill/assistant/internal/logging"
	"quill/assistant/internal/mcp"
	"quill/assistant/internal/modelresp"
)

// NativeProvider is the boundary to in-process tools.
type NativeProvider interface {
	Tools() []mcp.ToolDescriptor
	Has(name string) bool
	Call(ctx context.Context, name string, args map[string]any) mcp.ToolResult
}

// ToolRouter is the boundary to the server registry; it answers which
// connected server exposes a tool and routes calls to it.
type ToolRouter interface {
	AllTools() []mcp.ToolDescriptor
	ServerFor(name string) (string, bool)
	CallTool(ctx context.Context, serverName, name string, arguments any) (mcp.ToolResult, error)
}

// Executor is the single dispatch point from a parsed tool call to a result.
// Native tools take precedence, so a remote server can never shadow one.
type Executor struct {
	native NativeProvider
	router ToolRouter
	logger *slog.Logger
}

func NewExecutor(native NativeProvider, router ToolRouter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{native: native, router: router, logger: logger.With("component", "executor")}
}

// Execute runs one tool call and normalizes whatever happens into a
// ToolResult. Failures are error-flagged results; nothing escapes as a Go
// error.
func (e *Executor) Execute(ctx context.Context, call modelresp.ToolCall) mcp.ToolResult {
	if e.native != nil && e.native.Has(call.Name) {
		e.logger.Debug("executor.native_call", "tool", call.Name)
		return e.native.Call(ctx, call.Name, call.Arguments)
	}

	if e.router != nil {
		if server, ok := e.router.ServerFor(call.Name); ok {
			e.logger.Debug("executor.remote_call", "tool", call.Name, "server", server)
			result, err := e.router.CallTool(ctx, server, call.Name, call.Arguments)
			if err != nil {
				return mcp.ErrorResult(fmt.Sprintf("Tool '%s' failed on server '%s': %s", call.Name, server, err.Error()))
			}
			return result
		}
	}

	return mcp.ErrorResult(fmt.Sprintf("Tool '%s' not found in native or MCP tools.", call.Name))
}

// AvailableTools lists every callable tool, native first, for the system
// preamble.
func (e *Executor) AvailableTools() []mcp.ToolDescriptor {
	var out []mcp.ToolDescriptor
	if e.native != nil {
		out = append(out, e.native.Tools()...)
	}
	if e.router != nil {
		out = append(out, e.router.AllTools()...)
	}
	return out
}
