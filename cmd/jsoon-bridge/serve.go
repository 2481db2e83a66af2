package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tom-gora/jsoon-bridge/internal/api"
	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/config"
	"github.com/tom-gora/jsoon-bridge/internal/events"
	"github.com/tom-gora/jsoon-bridge/internal/history"
	"github.com/tom-gora/jsoon-bridge/internal/lock"
	"github.com/tom-gora/jsoon-bridge/internal/log"
	"github.com/tom-gora/jsoon-bridge/internal/scratch"
	"github.com/tom-gora/jsoon-bridge/internal/storage"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Override api.listen")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("jsoon-bridge starting",
		"version", version,
		"config", cfg.SourcePath,
		"config_hash", cfg.Fingerprint(),
		"worker", cfg.Worker.Path,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm, err := scratch.NewFSManager(cfg.Scratch.Dir)
	if err != nil {
		logger.Error("failed to initialize scratch manager", "dir", cfg.Scratch.Dir, "error", err)
		return 1
	}
	sweepOrphans(ctx, sm, cfg.Scratch.SweepAfter, logger)

	var (
		recorder bridge.Recorder
		reader   api.HistoryReader
	)
	if cfg.History.Enabled {
		pidLock, err := lock.Acquire(lock.PathFor(cfg.History.Path))
		if err != nil {
			logger.Error("failed to acquire history lock (another server may be running)", "path", lock.PathFor(cfg.History.Path), "error", err)
			return 1
		}
		defer pidLock.Release()

		db, store, err := openHistory(ctx, cfg)
		if err != nil {
			logger.Error("failed to open history", "path", cfg.History.Path, "error", err)
			return 1
		}
		defer db.Close()
		recorder, reader = store, store
		logger.Info("history enabled", "path", cfg.History.Path, "retention", cfg.History.Retention)
	}

	if err := bridge.NewInvoker(bridgeConfig(cfg)).Check(); err != nil {
		// Requests fail with worker_not_found until the binary appears.
		logger.Warn("worker not available", "error", err)
	}

	hub := events.NewHub(events.DefaultCapacity)
	b := bridge.New(bridgeConfig(cfg), sm, recorder, hub)

	srv := api.New(api.Config{
		Listen:        cfg.API.Listen,
		APIKey:        cfg.API.APIKey,
		MaxConcurrent: cfg.API.MaxConcurrent,
		MaxBodyBytes:  cfg.API.MaxBodyBytes,
		Verbose:       cfg.API.Verbose,
		RateLimit:     cfg.API.RateLimit,
		RateBurst:     cfg.API.RateBurst,

		ConfigPath:        cfg.SourcePath,
		ConfigFingerprint: cfg.Fingerprint(),
	}, b, reader, hub, log.WithComponent("api"))

	if !isLoopbackListen(cfg.API.Listen) && cfg.API.APIKey == "" {
		logger.Warn("API is listening beyond loopback without authentication", "listen", cfg.API.Listen)
	}
	logger.Info("jsoon-bridge running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server failed", "error", err)
		return 1
	}

	logger.Info("jsoon-bridge stopped")
	return 0
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		WorkerPath:       cfg.Worker.Path,
		WorkDir:          cfg.Worker.Root,
		Timeout:          cfg.Worker.Timeout,
		TerminationGrace: cfg.Worker.TerminationGrace,
	}
}

// openHistory opens the SQLite history and prunes it to the retention window.
func openHistory(ctx context.Context, cfg *config.Config) (*sql.DB, *history.Store, error) {
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}
	store := history.New(db)
	if cfg.History.Retention > 0 {
		n, err := store.Prune(ctx, cfg.History.Retention)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("prune history: %w", err)
		}
		if n > 0 {
			log.WithComponent("history").Info("pruned old invocations", "deleted", n)
		}
	}
	return db, store, nil
}

// sweepOrphans removes artifacts left behind by a crashed process. Failures
// are logged only.
func sweepOrphans(ctx context.Context, sm scratch.Manager, olderThan time.Duration, logger *slog.Logger) {
	if olderThan <= 0 {
		return
	}
	report, err := sm.Sweep(ctx, olderThan)
	if err != nil {
		logger.Warn("scratch sweep failed", "dir", sm.Dir(), "error", err)
		return
	}
	if report.DeletedFiles > 0 {
		logger.Info("removed orphaned config artifacts", "dir", sm.Dir(), "deleted", report.DeletedFiles)
	}
}

func isLoopbackListen(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// baseURL turns a listen address into a URL clients on this host can dial.
func baseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
