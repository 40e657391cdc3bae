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
	"golang.org/x/sync/errgroup"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/api"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/config"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/interrupt"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/llm"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/metrics"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/ollama"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/pipeline"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/uploads"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the clinicchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		secure, _ := cmd.Flags().GetBool("secure-cookies")
		return runServer(host, secure)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running clinicchat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show clinicchat status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the dataset assistant over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
	serveCmd.Flags().Bool("secure-cookies", false, "mark the session cookie Secure (behind TLS)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "clinicchat.pid")
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

func setupLogging(level string, w *os.File) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})))
}

// app is the wired set of components shared by the HTTP and MCP servers.
type app struct {
	store    *storage.Store
	uploads  *uploads.Dir
	sessions *session.Store
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

func buildApp(ctx context.Context, cfg config.Config, progress *os.File) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	llmCfg := llm.Config{
		Backend:           cfg.LLM.Backend,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}
	if strings.EqualFold(cfg.LLM.Backend, llm.BackendOllama) {
		base := cfg.LLM.BaseURL
		if base == "" {
			base = ollama.DefaultBaseURL
		}
		if err := ollama.EnsureReady(ctx, ollama.New(base), llmCfg.ModelName(), progress); err != nil {
			return nil, err
		}
	}
	model, err := llm.New(ctx, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.LLM.Backend, err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	dir, err := uploads.NewDir(cfg.Storage.UploadDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening upload dir: %w", err)
	}

	m := metrics.New()
	return &app{
		store:    store,
		uploads:  dir,
		sessions: session.NewStore(cfg.Session.TTL, cfg.Pipeline.HistoryWindow),
		metrics:  m,
		pipeline: pipeline.New(store, dir, model, interrupt.NewRegistry(), m, pipeline.Config{
			Chunks:     cfg.Pipeline.Chunks,
			ChunkDelay: cfg.Pipeline.ChunkDelay,
			SampleRows: cfg.Pipeline.SampleRows,
		}),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func runServer(host string, secureCookies bool) error {
	fmt.Fprintf(os.Stderr, "clinicchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, os.Stderr)

	// Refuse to start twice. The health endpoint is the source of truth; the
	// PID file only names the process.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("clinicchat is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("clinicchat is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if cfg.Server.APIToken == "" {
		slog.Info("management API disabled (server.api_token not set)")
	}

	handler := api.NewHandler(api.Deps{
		Pipeline:      a.pipeline,
		Store:         a.store,
		Uploads:       a.uploads,
		Sessions:      a.sessions,
		Metrics:       a.metrics,
		Token:         cfg.Server.APIToken,
		SecureCookies: secureCookies,
	})

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
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

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "clinicchat listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	setupLogging(cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline:  a.pipeline,
		Store:     a.store,
		Sessions:  a.sessions,
		SessionID: api.DefaultMCPSession,
		Version:   version,
	})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
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
		printError("clinicchat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop clinicchat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to clinicchat (PID %d)", pid)
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

	printStatus("Backend", "%s", cfg.LLM.Backend)
	printStatus("Model", "%s", modelLabel(cfg))
	if strings.EqualFold(cfg.LLM.Backend, llm.BackendOllama) {
		base := cfg.LLM.BaseURL
		if base == "" {
			base = ollama.DefaultBaseURL
		}
		if ollama.New(base).Reachable(context.Background()) {
			printStatus("Ollama", "running at %s", base)
		} else {
			printStatus("Ollama", "not running")
		}
	}

	if running && cfg.Server.APIToken != "" {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}
		if f, err := c.activeFile(context.Background()); err == nil {
			if f == "" {
				f = "none"
			}
			printStatus("Active file", "%s", f)
		}
		if page, err := c.history(context.Background(), 1, 0); err == nil {
			printStatus("Chat records", "%d", page.Total)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Upload dir", "%s", cfg.Storage.UploadDir)
	return nil
}

func modelLabel(cfg config.Config) string {
	return llm.Config{Backend: cfg.LLM.Backend, Model: cfg.LLM.Model}.ModelName()
}
