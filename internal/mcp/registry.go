package mcp

import (
	"context"
	"sync"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"quill/assistant/internal/logging"
)

// Registry manages a set of independent client connections as one logical
// tool surface. Iteration order is the order configs were given, so when two
// servers expose the same tool name the first configured one wins.
type Registry struct {
	logger *slog.Logger

	mu    sync.Mutex
	order []string
	conns map[string]*Client
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		logger: logger,
		conns:  make(map[string]*Client),
	}
}

// Initialize drops every existing connection, then connects each enabled
// config. Connections are attempted in parallel and one server failing never
// stops the others; partial success is the normal case.
func (r *Registry) Initialize(ctx context.Context, configs []ServerConfig) {
	r.DisconnectAll()

	r.mu.Lock()
	r.order = nil
	r.conns = make(map[string]*Client)
	var clients []*Client
	for _, cfg := range configs {
		if !cfg.Enabled {
			r.logger.Debug("mcp.server_disabled", "server", cfg.Name)
			continue
		}
		client := NewClient(cfg, r.logger)
		r.order = append(r.order, cfg.Name)
		r.conns[cfg.Name] = client
		clients = append(clients, client)
	}
	r.mu.Unlock()

	var group errgroup.Group
	for _, client := range clients {
		client := client
		group.Go(func() error {
			if err := client.Connect(ctx); err != nil {
				r.logger.Warn("mcp.connect_failed", "server", client.Name(), "error", err.Error())
			}
			return nil
		})
	}
	_ = group.Wait()
}

// AllTools returns the union of tool descriptors from every ready server.
// Duplicates are kept; routing resolves them first-configured-first.
func (r *Registry) AllTools() []ToolDescriptor {
	var out []ToolDescriptor
	for _, client := range r.clients() {
		if client.State() != StateReady {
			continue
		}
		out = append(out, client.Tools()...)
	}
	return out
}

// FindToolServer returns the first ready server whose cached tool list
// contains name.
func (r *Registry) FindToolServer(name string) (*Client, bool) {
	for _, client := range r.clients() {
		if client.State() != StateReady {
			continue
		}
		if client.HasTool(name) {
			return client, true
		}
	}
	return nil, false
}

// ServerFor reports which server would route a call to name.
func (r *Registry) ServerFor(name string) (string, bool) {
	client, ok := r.FindToolServer(name)
	if !ok {
		return "", false
	}
	return client.Name(), true
}

// CallTool routes a call to a specific server by name.
func (r *Registry) CallTool(ctx context.Context, serverName, name string, arguments any) (ToolResult, error) {
	r.mu.Lock()
	client, ok := r.conns[serverName]
	r.mu.Unlock()
	if !ok {
		return ToolResult{}, ErrServerUnknown
	}
	if client.State() != StateReady {
		return ToolResult{}, ErrNotConnected
	}
	return client.CallTool(ctx, name, arguments)
}

// Servers returns the known connections in configuration order.
func (r *Registry) Servers() []*Client {
	return r.clients()
}

// DisconnectAll tears every connection down in parallel. Per-connection
// failures are logged, never propagated.
func (r *Registry) DisconnectAll() {
	var group errgroup.Group
	for _, client := range r.clients() {
		client := client
		group.Go(func() error {
			if err := client.Disconnect(); err != nil {
				r.logger.Warn("mcp.disconnect_failed", "server", client.Name(), "error", err.Error())
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (r *Registry) clients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.conns[name])
	}
	return out
}
