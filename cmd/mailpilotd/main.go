package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailpilot/internal/api"
	"mailpilot/internal/automator"
	"mailpilot/internal/browser"
	"mailpilot/internal/config"
	"mailpilot/internal/core"
	"mailpilot/internal/logging"
	mailpilotmcp "mailpilot/internal/mcp"
	"mailpilot/internal/notify"
	"mailpilot/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// In MCP mode stdout belongs to the protocol.
	logWriter := os.Stdout
	if cfg.Mode == "mcp" {
		logWriter = os.Stderr
	}
	logger := logging.NewWithWriter(cfg.Log.Level, logWriter)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	sessions, err := browser.NewRemoteSessionManager(cfg.SessionProviderURL)
	if err != nil {
		logger.Error("create session manager", "err", err)
		os.Exit(1)
	}

	executor := core.NewExecutor(sessions, automator.New(logger), logger, cfg.Queue.TaskTimeout)
	notifier := buildNotifier(cfg, logger)
	queue := core.NewQueue(storeInst, executor, logger, notifier)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	var drainer *core.Drainer
	if cfg.Queue.DrainCron != "" {
		opts := core.BatchOptions{
			MaxTasksPerBatch:   cfg.Queue.DrainBatchSize,
			MaxConcurrentTasks: cfg.Queue.DrainConcurrency,
		}
		drainer, err = core.NewDrainer(queue, opts, cfg.Queue.DrainCron, logger, notifier)
		if err != nil {
			logger.Error("create drainer", "err", err)
			os.Exit(1)
		}
		drainer.Start(ctx)
	}

	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, storeInst, queue, drainer, logger)
	case "mcp":
		runMCPMode(cfg, storeInst, queue, drainer, logger, cancel)
	case "both":
		runBothMode(cfg, storeInst, queue, drainer, logger)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if !cfg.Bark.Enabled || cfg.Bark.URL == "" {
		return &notify.NoOpNotifier{}
	}
	bark, err := notify.NewBarkNotifier(cfg.Bark.URL)
	if err != nil {
		logger.Warn("bark notifier disabled", "err", err)
		return &notify.NoOpNotifier{}
	}
	return bark
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, store *store.Store, queue *core.Queue, drainer *core.Drainer, logger *slog.Logger) {
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, store, queue, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	stopDrainer(drainer, cfg.ShutdownGrace, logger)
}

// runMCPMode starts only the MCP server.
func runMCPMode(cfg *config.Config, store *store.Store, queue *core.Queue, drainer *core.Drainer, logger *slog.Logger, cancel context.CancelFunc) {
	mcpServer := mailpilotmcp.NewMCPServer(store, queue, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		logger.Info("received signal, shutting down...")
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}

	stopDrainer(drainer, cfg.ShutdownGrace, logger)
}

// runBothMode starts both HTTP and MCP servers.
func runBothMode(cfg *config.Config, store *store.Store, queue *core.Queue, drainer *core.Drainer, logger *slog.Logger) {
	mcpServer := mailpilotmcp.NewMCPServer(store, queue, logger)
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, store, queue, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	stopDrainer(drainer, cfg.ShutdownGrace, logger)

	logger.Info("shutdown complete")
}

func stopDrainer(drainer *core.Drainer, grace time.Duration, logger *slog.Logger) {
	if drainer == nil {
		return
	}
	stopCtx := drainer.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(grace):
		logger.Warn("drainer stop timed out")
	}
}
