package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
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

	"github.com/kalambet/jobmatch/internal/api"
	"github.com/kalambet/jobmatch/internal/config"
	"github.com/kalambet/jobmatch/internal/embedding"
	"github.com/kalambet/jobmatch/internal/matching"
	"github.com/kalambet/jobmatch/internal/profile"
	"github.com/kalambet/jobmatch/internal/storage"
	"github.com/kalambet/jobmatch/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the jobmatch server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running jobmatch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show jobmatch system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "jobmatch.pid")
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
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// prepareOllama checks the local Ollama and pulls the embedding model. A
// failure is logged and start-up continues: the worker retries embed tasks
// and Backfill covers whatever is still missing once Ollama is reachable.
func prepareOllama(ctx context.Context, cfg config.Config, w io.Writer) {
	if cfg.Embedding.Provider != "ollama" {
		return
	}
	ollama := embedding.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
	if err := ollama.EnsureReady(ctx, w); err != nil {
		slog.Warn("embedding provider not ready; embeddings will be retried", "provider", "ollama", "error", err)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "jobmatch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireServerSecrets(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("jobmatch is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("jobmatch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prepareOllama(ctx, cfg, os.Stderr)
	provider, err := embedding.NewProvider(ctx, embedding.Options{
		Provider:     cfg.Embedding.Provider,
		OllamaURL:    cfg.Ollama.BaseURL,
		OllamaModel:  cfg.Ollama.EmbedModel,
		GeminiAPIKey: cfg.Gemini.APIKey,
		GeminiModel:  cfg.Gemini.Model,
		OpenAIURL:    cfg.OpenAI.BaseURL,
		OpenAIAPIKey: cfg.OpenAI.APIKey,
		OpenAIModel:  cfg.OpenAI.Model,
		RateLimit:    cfg.Embedding.RateLimit,
		Burst:        cfg.Embedding.Burst,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	embedder := embedding.NewEmbedder(provider, cfg.Embedding.Timeout)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	engine := workflow.NewEngine(store)
	matcher := matching.NewService(store)

	handler := api.NewHandler(api.Deps{
		Workflow: engine,
		Matching: matcher,
		Profiles: profile.NewManager(store),
		Tasks:    store,
		Backfill: func(ctx context.Context, force bool) (embedding.Report, error) {
			return embedding.Backfill(ctx, store, embedder, force, cfg.Embedding.Concurrency)
		},
		Token: cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	worker := embedding.NewWorker(store, embedder, cfg.Worker.PollInterval)
	go worker.Run(ctx)

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Workflow: engine,
			Matching: matcher,
			Tasks:    store,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "jobmatch listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	return srv.Shutdown(shutdownCtx)
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
		printError("jobmatch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop jobmatch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to jobmatch (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
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

	printStatus("Provider", "%s", cfg.Embedding.Provider)
	switch cfg.Embedding.Provider {
	case "ollama":
		ollama := embedding.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
		if ollama.IsRunning(ctx) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	case "gemini":
		printStatus("Embed model", "%s", cfg.Gemini.Model)
	case "openai":
		printStatus("Embed model", "%s at %s", cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	}

	if running && cfg.API.Token != "" {
		c := &apiClient{
			baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
			token:      cfg.API.Token,
			actorID:    actorID,
			actorRole:  actorRole,
			httpClient: client,
		}
		if counts, err := fetchQueue(ctx, c); err == nil {
			printStatus("Embed queue", "%d pending, %d running, %d failed",
				counts["pending"], counts["running"], counts["failed"])
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchQueue(ctx context.Context, c *apiClient) (map[string]int, error) {
	resp, err := c.get(ctx, "/admin/queue")
	if err != nil {
		return nil, err
	}
	var counts map[string]int
	if err := decodeJSON(resp, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}
