package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kkerang/internal/server/api"
	"kkerang/internal/server/config"
	"kkerang/internal/server/database"
	"kkerang/internal/server/service"
	"kkerang/internal/server/session"
	"kkerang/internal/server/storage"
)

const defaultSecretKey = "secret-key"

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"upload_dir", cfg.UploadDir,
		"max_file_size", cfg.MaxFileSize,
		"session_ttl", cfg.SessionTTL,
	)
	if cfg.SecretKey == defaultSecretKey {
		slog.Warn("SECRET_KEY is the built-in default; set it before exposing the server")
	}

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize repository and services
	repo := database.NewRepository(db)
	accounts := service.NewAccountService(repo)
	videos := service.NewVideoService(repo, store, cfg.MaxFileSize, cfg.RecommendLimit)
	sessions := session.NewManager(cfg.SecretKey, cfg.SessionTTL, cfg.SecureCookies)

	// Start orphaned media sweeper
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(repo, store, cfg.CleanupInterval)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(accounts, videos, sessions, db)
	e := api.SetupRouter(handler, sessions, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}

// newStore builds the media store selected by STORAGE_BACKEND.
func newStore(cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	switch cfg.StorageBackend {
	case "s3":
		s3Store, err := storage.NewS3Store(cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		store = s3Store
	case "", "fs":
		store = storage.NewFileSystemStore(cfg.UploadDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	if err := store.EnsureDir(); err != nil {
		return nil, err
	}
	slog.Info("media storage initialized", "backend", cfg.StorageBackend)
	return store, nil
}
