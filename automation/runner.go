package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/husmancristian/geaman-engine/pkg/config"
	"github.com/husmancristian/geaman-engine/pkg/definition"
	"github.com/husmancristian/geaman-engine/pkg/engine"
	"github.com/husmancristian/geaman-engine/pkg/queue/rabbitmq"
	"github.com/husmancristian/geaman-engine/pkg/storage/persistent"
	"github.com/husmancristian/geaman-engine/pkg/worker"
)

func main() {
	// Path is relative to where the worker is started from.
	envErr := godotenv.Load("automation/.env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})).
		With(slog.String("component", "worker"))
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("No .env file found, relying on environment variables")
	}
	if len(cfg.WorkerProjects) == 0 {
		logger.Error("WORKER_PROJECTS not set in .env file or environment variables")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := definition.NewFileSource(cfg.DefinitionsDir)
	if err != nil {
		logger.Error("Failed to load case definitions", slog.String("dir", cfg.DefinitionsDir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Case definitions loaded", slog.String("dir", cfg.DefinitionsDir), slog.Int("cases", len(src.IDs())))

	queueManager, err := rabbitmq.NewRabbitMQManager(cfg.RabbitMQ_URL, logger)
	if err != nil {
		logger.Error("Failed to initialize RabbitMQ queue manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer queueManager.Close()

	store, err := persistent.NewStore(
		cfg.Postgres_DSN,
		cfg.MinIO_Endpoint,
		cfg.MinIO_AccessKey,
		cfg.MinIO_SecretKey,
		cfg.MinIO_BucketName,
		cfg.MinIO_UseSSL,
		logger,
	)
	if err != nil {
		logger.Error("Failed to initialize persistent report store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	sched, err := engine.New(cfg, engine.Deps{Source: src, Store: store, Notifier: queueManager, Logger: logger})
	if err != nil {
		logger.Error("Failed to build engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	w := worker.New(queueManager, sched, cfg.WorkerProjects, cfg.PollInterval, logger)
	if err := w.Run(ctx); err != nil {
		logger.Error("Worker stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Worker shut down")
}
