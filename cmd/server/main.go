package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/noctonic/dirstream/internal/catalog"
	"github.com/noctonic/dirstream/internal/config"
	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/hub"
	"github.com/noctonic/dirstream/internal/platform/logging"
	"github.com/noctonic/dirstream/internal/platform/version"
	"github.com/noctonic/dirstream/internal/server"
	"github.com/noctonic/dirstream/internal/watch"
)

func setupConfig() *config.Config {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"version", version.Get().Version,
		"watch_dir", cfg.WatchDir,
		"port", cfg.Port,
	)

	cat, err := catalog.New(cfg.WatchDir)
	if err != nil {
		slog.Error("Failed to seed file catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Catalog seeded", "files", cat.Len())

	h := hub.New(cfg.QueueCapacity, clock)

	// A lost watch is fatal: readiness flips first, then shutdown.
	var watcherAlive atomic.Bool
	watcherAlive.Store(true)
	fatalCh := make(chan error, 1)

	emit := func(change domain.Change) {
		cat.Apply(change)
		h.Publish(change)
	}
	onFatal := func(err error) {
		watcherAlive.Store(false)
		select {
		case fatalCh <- err:
		default:
		}
	}

	watcher, err := watch.New(watch.Config{
		Root:               cfg.WatchDir,
		DebounceWindow:     cfg.DebounceWindow,
		RewatchMaxAttempts: cfg.RewatchMaxAttempts,
		RewatchBackoff:     cfg.RewatchBackoff,
		Clock:              clock,
	}, emit, onFatal)
	if err != nil {
		slog.Error("Failed to start watcher", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(cfg, h, cat, clock, watcherAlive.Load)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			select {
			case fatalCh <- err:
			default:
			}
		}
	}()
	slog.Info("Server listening", "host", cfg.Host, "port", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		slog.Info("Shutdown signal received, cleaning up...", "signal", sig.String())
	case err := <-fatalCh:
		slog.Error("Fatal error, shutting down", "error", err)
		exitCode = 1
	}

	// Shutdown order matters: stop the watcher so no new changes are
	// published, stop the hub so every subscriber receives the closing
	// record, then shut down the HTTP server so sessions can drain.
	if err := watcher.Close(); err != nil {
		slog.Error("Watcher close error", "error", err)
	}
	h.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}

	slog.Info("Shutdown complete")
	os.Exit(exitCode)
}
