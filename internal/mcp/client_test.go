package mcp

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// fakeServerScript speaks just enough of the wire protocol for the handshake
// and a tools/call. Unparseable input lines are ignored the same way a real
// server would skip them.
const fakeServerScript = `import sys, json, time

TOOLS = [
    {"name": "echo", "description": "Echo back the input", "inputSchema": {"type": "object"}},
    {"name": "weather", "description": "Fake weather", "inputSchema": {"type": "object"}},
]

for line in sys.stdin:
    if not line.strip():
        continue
    try:
        req = json.loads(line)
    except ValueError:
        continue
    method = req.get("method")
    rid = req.get("id")
    if method == "initialize":
        resp = {"jsonrpc": "2.0", "id": rid, "result": {"protocolVersion": "2024-11-05", "serverInfo": {"name": "fake", "version": "1.0"}}}
    elif method == "initialized":
        continue
    elif method == "tools/list":
        resp = {"jsonrpc": "2.0", "id": rid, "result": {"tools": TOOLS}}
    elif method == "tools/call":
        name = req["params"]["name"]
        if name == "slow":
            time.sleep(5)
        if name == "boom":
            resp = {"jsonrpc": "2.0", "id": rid, "error": {"code": -32000, "message": "tool exploded"}}
        else:
            args = req["params"].get("arguments") or {}
            resp = {"jsonrpc": "2.0", "id": rid, "result": {"content": [{"type": "text", "text": json.dumps(args)}]}}
    else:
        resp = {"jsonrpc": "2.0", "id": rid, "error": {"code": -32601, "message": "method not found"}}
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()
`

func requirePython(t *testing.T) string {
	t.Helper()
	if path, err := exec.LookPath("python3"); err == nil {
		return path
	}
	if path, err := exec.LookPath("python"); err == nil {
		return path
	}
	t.Skip("python not available")
	return ""
}

func writeScript(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.py")
	if err := os.WriteFile(path, []byte(code), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func fakeServerConfig(t *testing.T, name string) ServerConfig {
	python := requirePython(t)
	return ServerConfig{
		Name:    name,
		Command: python,
		Args:    []string{"-u", writeScript(t, fakeServerScript)},
		Enabled: true,
	}
}

func TestClientConnectHandshake(t *testing.T) {
	client := NewClient(fakeServerConfig(t, "fake"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	if client.State() != StateReady {
		t.Errorf("state = %s, want ready", client.State())
	}
	tools := client.Tools()
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Name != "echo" || tools[1].Name != "weather" {
		t.Errorf("tool names = %q, %q", tools[0].Name, tools[1].Name)
	}
	if !client.HasTool("weather") || client.HasTool("nope") {
		t.Errorf("HasTool lookup wrong")
	}
}

func TestClientConnectTwiceFails(t *testing.T) {
	client := NewClient(fakeServerConfig(t, "fake"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	if err := client.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestClientConnectSpawnFailure(t *testing.T) {
	client := NewClient(ServerConfig{
		Name:    "broken",
		Command: filepath.Join(t.TempDir(), "does-not-exist"),
		Enabled: true,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Fatal("expected spawn error")
	}
	if client.State() != StateFailed {
		t.Errorf("state = %s, want failed", client.State())
	}
}

func TestClientCallTool(t *testing.T) {
	client := NewClient(fakeServerConfig(t, "fake"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	result, err := client.CallTool(ctx, "echo", map[string]any{"value": "hi"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if result.IsError {
		t.Errorf("unexpected error flag")
	}
	if got := result.Text(); got != `{"value": "hi"}` {
		t.Errorf("result text = %q", got)
	}
}

func TestClientRemoteError(t *testing.T) {
	client := NewClient(fakeServerConfig(t, "fake"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	_, err := client.CallTool(ctx, "boom", nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if remote.Code != -32000 || remote.Message != "tool exploded" {
		t.Errorf("remote = %+v", remote)
	}
}

func TestClientRequestTimeout(t *testing.T) {
	client := NewClient(fakeServerConfig(t, "fake"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	callCtx, callCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer callCancel()
	_, err := client.CallTool(callCtx, "slow", nil)
	if err == nil {
		t.Fatal("expected timeout")
	}

	// The pending entry is gone, so the connection stays usable and the
	// late response for the retired id is dropped.
	client.mu.Lock()
	pendingCount := len(client.pending)
	client.mu.Unlock()
	if pendingCount != 0 {
		t.Errorf("pending entries = %d, want 0", pendingCount)
	}

	result, err := client.CallTool(ctx, "echo", map[string]any{"after": "timeout"})
	if err != nil {
		t.Fatalf("call after timeout: %v", err)
	}
	if got := result.Text(); got != `{"after": "timeout"}` {
		t.Errorf("result text = %q", got)
	}
}

func TestClientDisconnectRejectsPending(t *testing.T) {
	client := NewClient(fakeServerConfig(t, "fake"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.CallTool(context.Background(), "slow", nil)
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	if err := client.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("pending call error = %v, want ErrNotConnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was abandoned instead of rejected")
	}

	if client.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", client.State())
	}
	if client.Tools() != nil && len(client.Tools()) != 0 {
		t.Errorf("tools not cleared")
	}
}

func TestClientGarbageLinesIgnored(t *testing.T) {
	python := requirePython(t)
	script := `import sys, json

sys.stdout.write("this is not json\n")
sys.stdout.flush()
for line in sys.stdin:
    if not line.strip():
        continue
    req = json.loads(line)
    method = req.get("method")
    rid = req.get("id")
    if method == "initialized":
        continue
    sys.stdout.write("garbage in between\n")
    if method == "initialize":
        resp = {"jsonrpc": "2.0", "id": rid, "result": {"protocolVersion": "2024-11-05"}}
    elif method == "tools/list":
        resp = {"jsonrpc": "2.0", "id": rid, "result": {"tools": []}}
    else:
        resp = {"jsonrpc": "2.0", "id": rid, "result": {}}
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()
`
	client := NewClient(ServerConfig{
		Name:    "noisy",
		Command: python,
		Args:    []string{"-u", writeScript(t, script)},
		Enabled: true,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect despite garbage lines: %v", err)
	}
	defer client.Disconnect()
	if client.State() != StateReady {
		t.Errorf("state = %s, want ready", client.State())
	}
}

func TestClientCallWhenDisconnected(t *testing.T) {
	client := NewClient(fakeServerConfig(t, "fake"), nil)
	err := client.Call(context.Background(), "tools/list", nil, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}
