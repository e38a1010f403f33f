package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"log/slog"

	"quill/assistant/internal/logging"
)

const (
	jsonRPCVersion  = "2.0"
	protocolVersion = "2024-11-05"
	clientName      = "quill"
	clientVersion   = "0.1.0"

	maxMessageSize = 12 * 1024 * 1024
	requestTimeout = 30 * time.Second
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
}

type rpcErrorBody struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

// Client owns one tool server subprocess and the JSON-RPC conversation with
// it: newline-delimited documents on stdin/stdout, request ids correlated
// through a pending table, stderr relayed to the log.
type Client struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	nextID  int
	pending map[int]chan response
	tools   []ToolDescriptor
}

func NewClient(cfg ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With("server", cfg.Name),
		nextID:  1,
		pending: make(map[int]chan response),
	}
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tools returns the tool list cached by the last successful handshake.
func (c *Client) Tools() []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// HasTool reports whether the cached tool list contains name.
func (c *Client) HasTool(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tool := range c.tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// Connect spawns the configured command and runs the handshake: initialize
// request, initialized notification, then tools/list to populate the cache.
// Any handshake failure tears the process down and is returned to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateFailed {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.startProcess(); err != nil {
		c.failConnect()
		return fmt.Errorf("spawn %q: %w", c.cfg.Command, err)
	}

	if err := c.handshake(ctx); err != nil {
		c.Disconnect()
		c.failConnect()
		return fmt.Errorf("handshake with %s: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	c.logger.Debug("mcp.connected", "tools", len(c.Tools()))
	return nil
}

func (c *Client) failConnect() {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}

func (c *Client) startProcess() error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	env := append([]string{}, os.Environ()...)
	for key, value := range c.cfg.Env {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.mu.Unlock()

	c.logger.Debug("mcp.process_started", "command", c.cfg.Command,
		"env", logging.RedactAny(c.cfg.Env))

	go c.readLoop(cmd, bufio.NewReader(stdout))
	go c.stderrLoop(stderr)
	go c.waitLoop(cmd)
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	initParams := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	if err := c.Call(ctx, "initialize", initParams, &initResult); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	c.mu.Lock()
	c.state = StateInitialized
	c.mu.Unlock()

	if err := c.Notify("initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	if err := c.refreshTools(ctx); err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	return nil
}

func (c *Client) refreshTools(ctx context.Context) error {
	var listResult struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := c.Call(ctx, "tools/list", nil, &listResult); err != nil {
		return err
	}
	c.mu.Lock()
	c.tools = listResult.Tools
	c.mu.Unlock()
	return nil
}

// Call sends a request and waits for the correlated response. Each request
// gets a fresh id; if no response arrives before the deadline the pending
// entry is dropped, so a late response for that id is ignored.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	if c.stdin == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id := c.nextID
	c.nextID++
	respCh := make(chan response, 1)
	c.pending[id] = respCh
	stdin := c.stdin
	c.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		c.removePending(id)
		return err
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		c.removePending(id)
		return fmt.Errorf("write request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	select {
	case resp := <-respCh:
		if resp.err != nil {
			return resp.err
		}
		if result != nil && len(resp.result) > 0 {
			if err := json.Unmarshal(resp.result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.removePending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", method, ErrRequestTimeout)
		}
		return ctx.Err()
	}
}

// Notify sends a fire-and-forget notification: no id, no pending entry.
func (c *Client) Notify(method string, params any) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(rpcNotification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return err
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// CallTool issues tools/call for name with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (ToolResult, error) {
	var result ToolResult
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	if err := c.Call(ctx, "tools/call", params, &result); err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

// Disconnect kills the subprocess. Every in-flight request is rejected, never
// left hanging.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.stdin = nil
	c.state = StateDisconnected
	c.tools = nil
	pending := c.pending
	c.pending = make(map[int]chan response)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: ErrNotConnected}
		close(ch)
	}

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return nil
}

func (c *Client) readLoop(cmd *exec.Cmd, reader *bufio.Reader) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.handleProcessExit(cmd, err)
			return
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if len(line) > maxMessageSize {
			c.handleProcessExit(cmd, errors.New("message too large"))
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp.invalid_json", "error", err.Error())
			continue
		}
		if resp.ID == 0 {
			// Server-initiated notification; nothing routes on it.
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ch == nil {
			// Duplicate or late arrival for a retired id.
			continue
		}
		if resp.Error != nil {
			ch <- response{err: &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}}
		} else {
			ch <- response{result: resp.Result}
		}
		close(ch)
	}
}

func (c *Client) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.logger.Debug("mcp.stderr", "message", line)
	}
}

func (c *Client) waitLoop(cmd *exec.Cmd) {
	_ = cmd.Wait()
	c.handleProcessExit(cmd, errors.New("process exited"))
}

func (c *Client) handleProcessExit(cmd *exec.Cmd, err error) {
	c.mu.Lock()
	if c.cmd != cmd {
		c.mu.Unlock()
		return
	}
	c.cmd = nil
	c.stdin = nil
	c.tools = nil
	c.state = StateDisconnected
	pending := c.pending
	c.pending = make(map[int]chan response)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: ErrNotConnected}
		close(ch)
	}

	if err != nil && !errors.Is(err, io.EOF) {
		c.logger.Warn("mcp.connection_closed", "error", err.Error())
	}
}

func (c *Client) removePending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
