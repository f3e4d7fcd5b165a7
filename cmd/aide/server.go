package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/aide/internal/api"
	"github.com/kalambet/aide/internal/assistant"
	"github.com/kalambet/aide/internal/classify"
	"github.com/kalambet/aide/internal/config"
	"github.com/kalambet/aide/internal/dispatch"
	"github.com/kalambet/aide/internal/domainapi"
	"github.com/kalambet/aide/internal/gather"
	"github.com/kalambet/aide/internal/generate"
	"github.com/kalambet/aide/internal/intent"
	"github.com/kalambet/aide/internal/llm"
	"github.com/kalambet/aide/internal/persona"
	"github.com/kalambet/aide/internal/profile"
	"github.com/kalambet/aide/internal/respond"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/telemetry"
	"github.com/kalambet/aide/internal/voice"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the aide server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running aide server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aide system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "aide.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "aide version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewSecretStore())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("aide is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("aide is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmClient := llm.New(cfg.Ollama.BaseURL)
	if err := llm.EnsureReady(ctx, llmClient, []string{cfg.Ollama.ChatModel, cfg.Ollama.FastModel}, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	bus := assistant.NewBus()
	sink := telemetry.NewSink(store, cfg.Telemetry.QueueSize, 0)
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		sink.Run(ctx)
	}()

	personaMgr := persona.NewManager(store, assistant.Announcer(bus, sink))
	defer personaMgr.Close()

	profileMgr := profile.NewManager(store)
	domains := domainapi.New(cfg.Domains.BaseURL, cfg.Domains.APIToken, config.Duration(cfg.Domains.Timeout, 4*time.Second))

	handlers, fallback := respond.DefaultHandlers(respond.Deps{
		Aggregator:  gather.New(domains),
		Generator:   generate.NewLLMGenerator(llmClient, cfg.Ollama.ChatModel, nil),
		Preferences: profileMgr.Summary,
	})
	ceilings, err := respond.ParseCeilings(cfg.Respond.Ceilings)
	if err != nil {
		return fmt.Errorf("respond.ceilings: %w", err)
	}
	responder := respond.New(respond.Options{
		InterimDelay:   config.Duration(cfg.Respond.InterimDelay, 0),
		DefaultCeiling: config.Duration(cfg.Respond.Ceiling, 0),
		Ceilings:       ceilings,
	}, handlers, fallback)

	var executor dispatch.Executor = dispatch.UnavailableExecutor{}
	if cfg.Actions.BaseURL != "" {
		executor = dispatch.NewHTTPExecutor(cfg.Actions.BaseURL, cfg.Actions.APIToken, 0)
	} else {
		slog.Warn("actions.base_url not set; actions will report failure")
	}

	asst, err := assistant.New(assistant.Deps{
		Store:      store,
		Classifier: classify.Default(),
		Parser:     intent.NewParser(intent.NewLLMExtractor(llmClient, cfg.Ollama.FastModel)),
		Dispatcher: dispatch.New(executor),
		Responder:  responder,
		Persona:    personaMgr,
		Bus:        bus,
		Telemetry:  sink,
	}, assistant.Options{
		HistorySize:  cfg.Conversation.HistorySize,
		DefaultTrust: float64(cfg.Trust.Default),
	})
	if err != nil {
		return err
	}

	var synth voice.Synthesizer = voice.TextSynthesizer{}
	if cfg.Speech.TTSURL != "" {
		synth = voice.NewHTTPSynthesizer(cfg.Speech.TTSURL, cfg.Speech.Locale)
	}

	handler := api.NewHandler(api.Deps{
		Assistant:   asst,
		Persona:     personaMgr,
		Preferences: profileMgr,
		Context:     gather.New(domains),
		Bus:         bus,
		Synthesizer: synth,
		Token:       apiToken,
	})

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Assistant:   asst,
			Persona:     personaMgr,
			Preferences: profileMgr,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "aide listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// The sink flushes what is queued once ctx is done.
	stop()
	<-sinkDone
	if n := sink.Dropped(); n > 0 {
		slog.Warn("telemetry events dropped", "count", n)
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("aide is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop aide (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to aide (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	llmClient := llm.New(cfg.Ollama.BaseURL)
	if llmClient.IsRunning(context.Background()) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Domains", "%s", cfg.Domains.BaseURL)

	if running {
		if c, err := newAPIClient(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			var st persona.State
			if c.call(ctx, http.MethodGet, "/v1/persona", nil, &st) == nil {
				printStatus("Persona", "%s (score %g)", st.Tier, st.Score)
			}
			var tr struct {
				Trust float64 `json:"trust"`
			}
			if c.call(ctx, http.MethodGet, "/v1/trust", nil, &tr) == nil {
				printStatus("Trust", "%g", tr.Trust)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
