package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newTestProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	root := t.TempDir()
	return NewProvider(root, nil), root
}

func TestReadWriteRoundTrip(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	result := provider.Call(ctx, "write_file", map[string]any{
		"file_path": "notes/hello.txt",
		"content":   "hello world\n",
	})
	if result.IsError {
		t.Fatalf("write failed: %s", result.Text())
	}

	result = provider.Call(ctx, "read_file", map[string]any{"file_path": "notes/hello.txt"})
	if result.IsError {
		t.Fatalf("read failed: %s", result.Text())
	}
	if result.Text() != "hello world\n" {
		t.Errorf("content = %q", result.Text())
	}
}

func TestReadMissingFileIsErrorResult(t *testing.T) {
	provider, _ := newTestProvider(t)
	result := provider.Call(context.Background(), "read_file", map[string]any{"file_path": "nope.txt"})
	if !result.IsError {
		t.Fatal("expected error-flagged result")
	}
}

func TestPathEscapeRefused(t *testing.T) {
	provider, _ := newTestProvider(t)
	for _, path := range []string{"../outside.txt", "a/../../outside.txt"} {
		result := provider.Call(context.Background(), "read_file", map[string]any{"file_path": path})
		if !result.IsError || !strings.Contains(result.Text(), "escapes the workspace") {
			t.Errorf("path %q: result = %#v", path, result)
		}
	}
}

func TestEditFile(t *testing.T) {
	provider, root := newTestProvider(t)
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {\n\tprintln(\"old\")\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := provider.Call(context.Background(), "edit_file", map[string]any{
		"file_path":  "main.go",
		"old_string": `println("old")`,
		"new_string": `println("new")`,
	})
	if result.IsError {
		t.Fatalf("edit failed: %s", result.Text())
	}
	if !strings.Contains(result.Text(), `- 	println("old")`) || !strings.Contains(result.Text(), `+ 	println("new")`) {
		t.Errorf("diff not rendered:\n%s", result.Text())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `println("new")`) {
		t.Errorf("file not edited: %s", data)
	}
}

func TestEditFileRequiresUniqueMatch(t *testing.T) {
	provider, root := newTestProvider(t)
	if err := os.WriteFile(filepath.Join(root, "dup.txt"), []byte("x\nx\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := provider.Call(context.Background(), "edit_file", map[string]any{
		"file_path":  "dup.txt",
		"old_string": "x",
		"new_string": "y",
	})
	if !result.IsError || !strings.Contains(result.Text(), "must be unique") {
		t.Errorf("result = %#v", result)
	}
}

func TestListFiles(t *testing.T) {
	provider, root := newTestProvider(t)
	for _, p := range []string{"a.go", "pkg/b.go", ".git/config"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	result := provider.Call(context.Background(), "list_files", map[string]any{})
	if result.IsError {
		t.Fatalf("list failed: %s", result.Text())
	}
	got := result.Text()
	if !strings.Contains(got, "a.go") || !strings.Contains(got, filepath.Join("pkg", "b.go")) {
		t.Errorf("listing = %q", got)
	}
	if strings.Contains(got, ".git") {
		t.Errorf(".git should be skipped: %q", got)
	}
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh not available")
	}
	provider, _ := newTestProvider(t)
	result := provider.Call(context.Background(), "run_command", map[string]any{"command": "echo hi there"})
	if result.IsError {
		t.Fatalf("run failed: %s", result.Text())
	}
	if result.Text() != "hi there" {
		t.Errorf("output = %q", result.Text())
	}
}

func TestRunCommandFailureIsErrorResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh not available")
	}
	provider, _ := newTestProvider(t)
	result := provider.Call(context.Background(), "run_command", map[string]any{"command": "echo oops >&2; exit 3"})
	if !result.IsError {
		t.Fatal("expected error-flagged result")
	}
	if !strings.Contains(result.Text(), "oops") {
		t.Errorf("stderr missing from result: %q", result.Text())
	}
}

func TestUnknownToolName(t *testing.T) {
	provider, _ := newTestProvider(t)
	result := provider.Call(context.Background(), "teleport", nil)
	if !result.IsError {
		t.Fatal("expected error-flagged result")
	}
}

func TestMissingArgument(t *testing.T) {
	provider, _ := newTestProvider(t)
	result := provider.Call(context.Background(), "read_file", map[string]any{})
	if !result.IsError || !strings.Contains(result.Text(), "file_path") {
		t.Errorf("result = %#v", result)
	}
}
