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

	"github.com/mkovacs/salespanel/internal/analyzer"
	"github.com/mkovacs/salespanel/internal/api"
	"github.com/mkovacs/salespanel/internal/cache"
	"github.com/mkovacs/salespanel/internal/config"
	"github.com/mkovacs/salespanel/internal/engine"
	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/quota"
	"github.com/mkovacs/salespanel/internal/saved"
	"github.com/mkovacs/salespanel/internal/session"
	"github.com/mkovacs/salespanel/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the salespanel daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running salespanel daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show salespanel status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "salespanel.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "salespanel version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// The extension authenticates with this token; generate one on first
	// start.
	if err := config.EnsureServerToken(&cfg); err != nil {
		return err
	}

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("salespanel is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("salespanel is already running on port %d", cfg.Server.Port)
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
			slog.Warn("closing storage", "error", err)
		}
	}()

	cacheStore := cache.New(store, nil)
	if n, err := cacheStore.EvictExpired(); err != nil {
		slog.Warn("startup cache eviction failed", "error", err)
	} else if n > 0 {
		slog.Info("evicted expired cache entries", "count", n)
	}

	sess := &session.State{}
	gate := quota.NewGate(cfg.Remote.BaseURL, nil, nil)
	gate.OnUpdate(sess.SetQuota)

	savedStore := saved.NewStore(store)
	deleter := saved.NewDeleter(savedStore, slog.Default())

	runner := &engine.Runner{
		Extractor: extract.NewHTTPExtractor(nil),
		Cache:     cacheStore,
		Saved:     savedStore,
		Quota:     gate,
		Analyzer:  analyzer.NewClient(cfg.Remote.BaseURL, nil),
		Session:   sess,
		Settings: engine.Settings{
			ReanalysisMode:  cfg.Analysis.ReanalysisMode,
			InternalDomains: cfg.Analysis.InternalDomainList(),
		},
	}
	saver := &saved.Saver{Store: savedStore, Runner: runner}

	deps := api.Deps{
		Runner:      runner,
		Saver:       saver,
		Store:       savedStore,
		Deleter:     deleter,
		Cache:       cacheStore,
		Session:     sess,
		Quota:       gate,
		Token:       cfg.Server.Token,
		RemoteToken: cfg.Remote.APIToken,
		UserID:      cfg.Remote.UserID,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP server over stdio, in its own goroutine.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Runner:      runner,
		Store:       savedStore,
		Deleter:     deleter,
		RemoteToken: cfg.Remote.APIToken,
		UserID:      cfg.Remote.UserID,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "salespanel listening on %s\n", addr)
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

	// Pending soft deletes must not be lost on shutdown.
	if err := deleter.Flush(shutdownCtx); err != nil {
		slog.Warn("flushing pending deletes", "error", err)
	}
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
		printError("salespanel is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop salespanel (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to salespanel (PID %d)", pid)
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

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Remote.APIToken == "" {
		printStatus("Account", "signed out")
	} else {
		printStatus("Account", "signed in (user %s)", cfg.Remote.UserID)
	}
	printStatus("Reanalysis", "%s", cfg.Analysis.ReanalysisMode)

	if running && cfg.Server.Token != "" {
		quotaResp, err := apiGet(client, serverURL+"/quota", cfg.Server.Token)
		if err == nil {
			var snap struct {
				Plan           string `json:"plan"`
				RemainingToday int    `json:"remaining_today"`
				DailyLimit     int    `json:"daily_limit"`
			}
			if decodeJSON(quotaResp, &snap) == nil {
				printStatus("Quota", "%s plan, %d/%d analyses left today", snap.Plan, snap.RemainingToday, snap.DailyLimit)
			}
		}
		listResp, err := apiGet(client, serverURL+"/saved", cfg.Server.Token)
		if err == nil {
			var list struct {
				Total int `json:"total"`
			}
			if decodeJSON(listResp, &list) == nil {
				printStatus("Saved", "%d analyses", list.Total)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
