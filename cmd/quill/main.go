package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"quill/assistant/internal/agent"
	"quill/assistant/internal/appdirs"
	"quill/assistant/internal/backend"
	"quill/assistant/internal/config"
	"quill/assistant/internal/logging"
	"quill/assistant/internal/mcp"
	"quill/assistant/internal/modelresp"
	"quill/assistant/internal/rules"
	"quill/assistant/internal/tools"
)

var (
	flagConfig  string
	flagDebug   bool
	flagLogFile bool
	flagModel   string
	flagBackend string
)

func main() {
	root := &cobra.Command{
		Use:           "quill",
		Short:         "Local code assistant with MCP tool servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to settings.json")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose logging to stderr")
	root.PersistentFlags().BoolVar(&flagLogFile, "log-file", false, "write debug logs to the data dir instead of stderr")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "override the configured model")
	root.PersistentFlags().StringVar(&flagBackend, "backend", "", "override the backend URL")

	root.AddCommand(newChatCmd(), newAskCmd(), newToolsCmd(), newHealthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	settings *config.Settings
	logger   *slog.Logger
	backend  *backend.Client
	registry *mcp.Registry
	loop     *agent.Loop
	closeLog func() error
}

func newApp(ctx context.Context, connectServers bool) (*app, error) {
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	logger := logging.NewStderrLogger(flagDebug)
	closeLog := func() error { return nil }
	if flagLogFile {
		fileLogger, err := logging.NewFileLogger(dataDir, true)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger = fileLogger.Logger
		closeLog = fileLogger.Close
	}

	configPath := flagConfig
	if configPath == "" {
		configPath = appdirs.SettingsPath(dataDir)
	}
	settings, err := config.NewStore(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if flagModel != "" {
		settings.Backend.Model = flagModel
	}
	if flagBackend != "" {
		settings.Backend.URL = flagBackend
	}

	gen := backend.NewClient(settings.Backend.URL, logger)
	registry := mcp.NewRegistry(logger)
	if connectServers {
		registry.Initialize(ctx, settings.ServerConfigs())
	}

	workspace, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	native := tools.NewProvider(workspace, logger)
	executor := agent.NewExecutor(native, registry, logger)

	rulesDir := settings.RulesDir
	if rulesDir == "" {
		rulesDir = appdirs.RulesDir(dataDir)
	}
	ruleText, err := rules.Load(rulesDir)
	if err != nil {
		logger.Warn("app.rules_load_failed", "error", err.Error())
	}

	loop := agent.NewLoop(gen, executor, ruleText, agent.Config{
		Model:       settings.Backend.Model,
		MaxRounds:   settings.Agent.MaxRounds,
		MaxDuration: time.Duration(settings.Agent.MaxTurnSeconds) * time.Second,
		OnToolCall: func(call modelresp.ToolCall) {
			fmt.Fprintf(os.Stderr, "[tool] %s\n", call.Name)
		},
	}, logger)

	return &app{
		settings: settings,
		logger:   logger,
		backend:  gen,
		registry: registry,
		loop:     loop,
		closeLog: closeLog,
	}, nil
}

func (a *app) close() {
	a.registry.DisconnectAll()
	_ = a.closeLog()
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer app.close()

			fmt.Println("quill — type a message, /reset to clear, Ctrl-D to quit")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "/reset" {
					app.loop.Reset()
					fmt.Println("(history cleared)")
					continue
				}
				if err := runTurn(ctx, app, input); err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
				}
			}
		},
	}
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "One-shot question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer app.close()
			return runTurn(ctx, app, strings.Join(args, " "))
		},
	}
}

// runTurn drives one user turn and streams the parsed content to stdout as
// it settles. Re-parsing per chunk means early formatting can be transient;
// anything already printed is only ever extended, never rewritten.
func runTurn(ctx context.Context, app *app, input string) error {
	var printed string
	app.loop.SetOnDisplay(func(parsed modelresp.ParsedResponse) {
		content := parsed.Content
		if len(content) > len(printed) && strings.HasPrefix(content, printed) {
			fmt.Print(content[len(printed):])
			printed = content
		}
	})

	result, err := app.loop.Run(ctx, input)
	if err != nil {
		return err
	}
	if result.Content != printed {
		if strings.HasPrefix(result.Content, printed) {
			fmt.Print(result.Content[len(printed):])
		} else {
			if printed != "" {
				fmt.Println()
			}
			fmt.Print(result.Content)
		}
	}
	fmt.Println()
	if result.Outcome == agent.OutcomeEscalated {
		fmt.Fprintf(os.Stderr, "[turn needs escalation after %d rounds]\n", result.Rounds)
	}
	return nil
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List native and MCP tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer app.close()

			fmt.Println("Native tools:")
			for _, tool := range tools.Descriptors {
				fmt.Printf("  %-14s %s\n", tool.Name, tool.Description)
			}
			for _, server := range app.registry.Servers() {
				fmt.Printf("Server %s (%s):\n", server.Name(), server.State())
				for _, tool := range server.Tools() {
					fmt.Printf("  %-14s %s\n", tool.Name, tool.Description)
				}
			}
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the generation backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer app.close()
			if err := app.backend.Health(ctx); err != nil {
				return err
			}
			fmt.Printf("backend at %s is healthy\n", app.settings.Backend.URL)
			return nil
		},
	}
}
