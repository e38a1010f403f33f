// Package agent drives the multi-round conversation loop: stream a
// generation, parse it, run at most one tool call, feed the result back, and
// repeat until the model answers without requesting a tool.
package agent

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"quill/assistant/internal/logging"
	"quill/assistant/internal/mcp"
	"quill/assistant/internal/modelresp"
)

const (
	loopDetectionWindow = 6
	loopDetectionWarn   = 3
	loopDetectionStop   = 5
)

// Generator is the boundary to the text-generation backend.
type Generator interface {
	Stream(ctx context.Context, model, prompt string, onDelta func(string)) (string, error)
}

// Outcome says how a turn ended.
type Outcome string

const (
	// OutcomeAnswered: the model produced a tool-call-free answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeEscalated: a guard tripped (round cap, duration cap, or a
	// repeated identical tool call) before a final answer arrived.
	OutcomeEscalated Outcome = "escalated"
)

// TurnResult is what one user turn produced.
type TurnResult struct {
	Content   string
	Reasoning string
	Rounds    int
	ToolCalls int
	Outcome   Outcome
}

type Config struct {
	Model       string
	MaxRounds   int
	MaxDuration time.Duration

	// OnDisplay receives the re-parsed accumulated text after every
	// streamed chunk. Best effort: transient formatting may show up.
	OnDisplay func(parsed modelresp.ParsedResponse)
	// OnToolCall is invoked just before a tool call executes.
	OnToolCall func(call modelresp.ToolCall)
}

// Loop owns one conversation. Not safe for concurrent Run calls; one logical
// task drives it.
type Loop struct {
	generator Generator
	executor  *Executor
	history   *History
	rules     string
	cfg       Config
	logger    *slog.Logger
}

func NewLoop(generator Generator, executor *Executor, rules string, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 25
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Minute
	}
	return &Loop{
		generator: generator,
		executor:  executor,
		history:   NewHistory(),
		rules:     rules,
		cfg:       cfg,
		logger:    logger.With("component", "agent"),
	}
}

func (l *Loop) History() *History { return l.history }

// SetOnDisplay replaces the live-display callback for subsequent turns.
func (l *Loop) SetOnDisplay(fn func(modelresp.ParsedResponse)) {
	l.cfg.OnDisplay = fn
}

// Reset clears the conversation.
func (l *Loop) Reset() { l.history.Reset() }

// Run executes one user turn to completion. Tool execution failures feed back
// into the conversation as results; only backend/stream failures are returned
// as errors.
func (l *Loop) Run(ctx context.Context, userInput string) (TurnResult, error) {
	l.history.Append(RoleUser, userInput)
	start := time.Now()
	result := TurnResult{Outcome: OutcomeAnswered}
	var loopWindow []string

	for round := 0; ; round++ {
		if round >= l.cfg.MaxRounds {
			l.logger.Warn("agent.round_cap", "rounds", round)
			result.Outcome = OutcomeEscalated
			result.Content = fmt.Sprintf("Stopped after %d tool rounds without a final answer.", round)
			return result, nil
		}
		if elapsed := time.Since(start); elapsed > l.cfg.MaxDuration {
			l.logger.Warn("agent.duration_cap", "elapsed", elapsed.String())
			result.Outcome = OutcomeEscalated
			result.Content = fmt.Sprintf("Stopped after %s without a final answer.", elapsed.Round(time.Second))
			return result, nil
		}

		prompt := l.buildPrompt()
		l.logger.Debug("agent.generate", "round", round, "prompt_bytes", len(prompt))

		var accumulated strings.Builder
		raw, err := l.generator.Stream(ctx, l.cfg.Model, prompt, func(delta string) {
			accumulated.WriteString(delta)
			if l.cfg.OnDisplay != nil {
				l.cfg.OnDisplay(modelresp.Parse(accumulated.String()))
			}
		})
		if err != nil {
			return result, fmt.Errorf("generation stream: %w", err)
		}

		parsed := modelresp.Parse(raw)
		result.Rounds = round + 1
		if parsed.Reasoning != "" {
			result.Reasoning = parsed.Reasoning
		}

		if len(parsed.ToolCalls) == 0 {
			l.history.Append(RoleAssistant, raw)
			result.Content = parsed.Content
			l.logger.Debug("agent.turn_complete", "rounds", result.Rounds, "tool_calls", result.ToolCalls)
			return result, nil
		}

		// Fixed policy: one tool call per round, the first one. The
		// extractor returns all of them; the rest are ignored this round.
		call := parsed.ToolCalls[0]

		loopWindow = append(loopWindow, toolCallHash(call))
		if len(loopWindow) > loopDetectionWindow {
			loopWindow = loopWindow[len(loopWindow)-loopDetectionWindow:]
		}
		switch repeatedCallAction(loopWindow) {
		case "stop":
			l.logger.Warn("agent.loop_stop", "tool", call.Name)
			l.history.Append(RoleAssistant, raw)
			result.Outcome = OutcomeEscalated
			result.Content = fmt.Sprintf("Stopped: the model repeated the same '%s' call %d times.", call.Name, loopDetectionStop)
			return result, nil
		case "warn":
			l.logger.Warn("agent.loop_warning", "tool", call.Name)
		}

		if l.cfg.OnToolCall != nil {
			l.cfg.OnToolCall(call)
		}
		l.logger.Debug("agent.tool_start", "round", round, "tool", call.Name,
			"arguments", logging.RedactAny(call.Arguments))
		toolStart := time.Now()
		toolResult := l.executor.Execute(ctx, call)
		l.logger.Debug("agent.tool_complete", "tool", call.Name,
			"elapsed_ms", time.Since(toolStart).Milliseconds(), "is_error", toolResult.IsError)
		result.ToolCalls++

		l.history.Append(RoleAssistant, raw)
		l.history.Append(RoleUser, renderToolResult(call.Name, toolResult))
	}
}

// buildPrompt renders the system preamble (identity, tool list, rules) and
// the full message history into one prompt for the completion endpoint.
func (l *Loop) buildPrompt() string {
	var b strings.Builder
	b.WriteString("You are a coding assistant working in the user's workspace.\n")
	b.WriteString("To use a tool, reply with: tool_call(name=\"<tool>\", arguments={<json>})\n")
	b.WriteString("Call at most one tool at a time and wait for its result.\n\n")

	tools := l.executor.AvailableTools()
	if len(tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, tool := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
			if len(tool.InputSchema) > 0 {
				fmt.Fprintf(&b, "  schema: %s\n", compactJSON(tool.InputSchema))
			}
		}
		b.WriteString("\n")
	}

	if l.rules != "" {
		b.WriteString("Project rules:\n")
		b.WriteString(l.rules)
		b.WriteString("\n\n")
	}

	for _, msg := range l.history.Messages() {
		switch msg.Role {
		case RoleUser:
			b.WriteString("User: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		case RoleSystem:
			b.WriteString("System: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant: ")
	return b.String()
}

func renderToolResult(name string, result mcp.ToolResult) string {
	text := result.Text()
	if text == "" {
		text = "(no output)"
	}
	if result.IsError {
		return fmt.Sprintf("Tool '%s' failed:\n%s", name, text)
	}
	return fmt.Sprintf("Tool '%s' result:\n%s", name, text)
}

func toolCallHash(call modelresp.ToolCall) string {
	args, _ := json.Marshal(call.Arguments)
	sum := sha256.Sum256([]byte(call.Name + ":" + string(args)))
	return hex.EncodeToString(sum[:8])
}

// repeatedCallAction inspects the trailing run of identical call hashes and
// returns "warn" or "stop" once it crosses the thresholds.
func repeatedCallAction(window []string) string {
	if len(window) == 0 {
		return ""
	}
	last := window[len(window)-1]
	run := 0
	for i := len(window) - 1; i >= 0 && window[i] == last; i-- {
		run++
	}
	switch {
	case run >= loopDetectionStop:
		return "stop"
	case run >= loopDetectionWarn:
		return "warn"
	}
	return ""
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
