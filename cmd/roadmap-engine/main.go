package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terra-clan/roadmap-engine/internal/api"
	"github.com/terra-clan/roadmap-engine/internal/cleanup"
	"github.com/terra-clan/roadmap-engine/internal/config"
	"github.com/terra-clan/roadmap-engine/internal/notify"
	"github.com/terra-clan/roadmap-engine/internal/overlay"
	"github.com/terra-clan/roadmap-engine/internal/permission"
	"github.com/terra-clan/roadmap-engine/internal/projection"
	"github.com/terra-clan/roadmap-engine/internal/seed"
	"github.com/terra-clan/roadmap-engine/internal/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting roadmap-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	if err := storage.MigrateFromDSN(initCtx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize database repository (the domain source)
	repo, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
	})
	if err != nil {
		slog.Error("failed to create database repository", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected successfully")

	// Initialize permission checker against the membership schema
	perms, err := permission.NewPostgresChecker(cfg.Database.MembersDSN)
	if err != nil {
		slog.Error("failed to create permission checker", "error", err)
		os.Exit(1)
	}

	// Initialize the overlay KV and the change broker on a shared redis client
	kv, err := overlay.NewRedisKV(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Error("failed to connect overlay store", "error", err)
		os.Exit(1)
	}
	broker := notify.NewRedisBrokerFromClient(kv.Client(), cfg.Overlay.Channel)
	overlays := overlay.NewStore(kv, broker, cfg.Overlay.KeyPrefix, cfg.Overlay.IdleTTL)
	slog.Info("overlay store connected", "prefix", cfg.Overlay.KeyPrefix, "channel", cfg.Overlay.Channel)

	// Seed roadmap fixtures when configured
	if cfg.Seed.Dir != "" {
		loader := seed.NewLoader()
		if err := loader.LoadFromDir(cfg.Seed.Dir); err != nil {
			slog.Warn("failed to load fixtures", "dir", cfg.Seed.Dir, "error", err)
		} else if err := loader.Seed(initCtx, repo); err != nil {
			slog.Error("failed to seed fixtures", "error", err)
			os.Exit(1)
		}
	}

	// Initialize the projection supervisor
	builder := projection.NewBuilder(repo, perms)
	supervisor := projection.NewSupervisor(builder, overlays, broker)

	// Initialize cleanup worker
	cleaner := cleanup.NewCleaner(supervisor, cfg.Cleanup.Interval, cfg.Cleanup.MaxIdle)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start cleanup worker
	cleaner.Start(ctx)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, supervisor, overlays, broker, repo, perms)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Stop background workers and watchers, then close connections
	cancel()
	supervisor.Close()

	if err := repo.Close(); err != nil {
		slog.Error("failed to close repository", "error", err)
	}
	if err := perms.Close(); err != nil {
		slog.Error("failed to close permission checker", "error", err)
	}
	if err := kv.Close(); err != nil {
		slog.Error("failed to close overlay store", "error", err)
	}

	slog.Info("roadmap-engine stopped")
}
