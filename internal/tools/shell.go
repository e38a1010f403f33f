package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	commandTimeout = 60 * time.Second
	maxOutputBytes = 64 * 1024
)

func (p *Provider) runCommand(ctx context.Context, args map[string]any) (string, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = p.root
	output, err := cmd.CombinedOutput()
	text := truncateOutput(string(output))

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s:\n%s", commandTimeout, text)
	}
	if err != nil {
		// A failing command is still useful context for the model;
		// include whatever it printed.
		return "", fmt.Errorf("command failed (%v):\n%s", err, text)
	}
	p.logger.Debug("tools.command_ran", "command", command, "output_bytes", len(output))
	if text == "" {
		return "(no output)", nil
	}
	return text, nil
}

func truncateOutput(out string) string {
	out = strings.TrimSpace(out)
	if len(out) <= maxOutputBytes {
		return out
	}
	return out[:maxOutputBytes] + "\n... (output truncated)"
}
