package main

import (
	"context"
	"errors"
	"fmt"
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

	"github.com/alitho/shipview/internal/api"
	"github.com/alitho/shipview/internal/cache"
	"github.com/alitho/shipview/internal/config"
	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/metrics"
	"github.com/alitho/shipview/internal/pipeline"
	"github.com/alitho/shipview/internal/recheck"
	"github.com/alitho/shipview/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shipview server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running shipview server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shipview server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "shipview.pid")
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

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "shipview version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("shipview is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("shipview is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	client := erp.New(cfg.ERP.BaseURL, erp.NewCachedCredentials(cfg.ERPCredentials()), cfg.ERPTimeout())
	if cfg.ERP.Username == "" || cfg.ERP.Password == "" {
		slog.Warn("erp credentials not configured; requests will fail until they are set")
	}

	results, err := cache.New[pipeline.Page](cfg.Cache.MaxEntries, cfg.CacheTTL())
	if err != nil {
		return fmt.Errorf("creating result cache: %w", err)
	}
	reg := metrics.NewRegistry()
	reg.WatchLedger(store, storage.JobPending, storage.JobRunning, storage.JobFailed)
	ledger := recheck.NewLedger(store, cfg.RecheckInterval())

	svc := pipeline.NewService(client, results, ledger, reg, pipeline.Options{
		FindLimit:        cfg.Pipeline.FindLimit,
		BatchSize:        cfg.Pipeline.BatchSize,
		Location:         loc,
		ShippedPrefilter: cfg.Pipeline.ShippedPrefilter,
	})

	handler := api.NewHandler(api.Deps{
		Shipments:   svc,
		Corruptions: store,
		Token:       apiToken,
		Metrics:     reg.Handler(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	worker := recheck.NewWorker(store, client, cfg.RecheckInterval())
	go worker.Run(ctx)
	slog.Info("recheck worker started", "interval", cfg.RecheckInterval())

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Shipments: svc, Corruptions: store}, version)
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
		fmt.Fprintf(os.Stderr, "shipview listening on %s\n", addr)
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
		printError("shipview is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop shipview (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to shipview (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	printStatus("ERP", "%s", cfg.ERP.BaseURL)
	if cfg.ERP.Username == "" || cfg.ERP.Password == "" {
		printStatus("Credentials", "%s", colorize(colorYellow, "missing"))
	} else {
		printStatus("Credentials", "configured (%s)", cfg.ERP.Username)
	}
	printStatus("Time zone", "%s", cfg.Pipeline.DisplayTimezone)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	c, err := newAPIClient()
	if err != nil {
		printStatus("Server", "unknown (%v)", err)
		return nil
	}
	return serverStatus(ctx, c, cfg.Server.Port)
}

// serverStatus reports health and the open corruption count of a running
// server.
func serverStatus(ctx context.Context, c *apiClient, port int) error {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on port %d", port)

	resp, err = c.get(ctx, "/diagnostics/corruptions?limit=1000")
	if err != nil {
		return nil
	}
	var open []storage.Corruption
	if err := decodeJSON(resp, &open); err != nil {
		printStatus("Corrupted records", "unavailable (%v)", err)
		return nil
	}
	printStatus("Corrupted records", "%s open", countLabel(len(open), 1000))
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
