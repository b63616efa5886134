package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feeportal/internal/config"
	"feeportal/internal/diagnostics"
	"feeportal/internal/queue"
	"feeportal/internal/store"
)

// Worker drains queued contract violations into Postgres.
func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient.Client, cfg.DiagnosticsKey, logger)
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}

	drainer := diagnostics.Drainer{
		Store:   diagnostics.PostgresReporter{DB: db.Client, Log: logger},
		Requeue: q,
		Backoff: time.Second,
		Log:     logger,
	}
	logger.Info("worker started, waiting for violations", "key", cfg.DiagnosticsKey)
	stored := drainer.Run(ctx, messages)

	logger.Info("worker stopped", "stored", stored)
}
