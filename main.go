package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/husmancristian/geaman-engine/pkg/api"
	"github.com/husmancristian/geaman-engine/pkg/config"
	"github.com/husmancristian/geaman-engine/pkg/queue/rabbitmq"
	"github.com/husmancristian/geaman-engine/pkg/storage/migrations"
	"github.com/husmancristian/geaman-engine/pkg/storage/persistent"
)

func main() {
	// Only attempt to load a .env file if APP_ENV is not 'production'.
	var envErr error
	if os.Getenv("APP_ENV") != "production" {
		envErr = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("Could not load .env file, relying on environment variables", slog.String("error", envErr.Error()))
	}

	if cfg.Postgres_DSN == "" {
		logger.Error("PostgreSQL DSN (POSTGRES_DSN) is empty in configuration")
		os.Exit(1)
	}

	logger.Info("Starting test engine API server...", slog.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := migrations.Up(cfg.Postgres_DSN, logger); err != nil {
			logger.Error("Failed to apply database migrations", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

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

	router := api.SetupRouter(api.NewAPI(queueManager, store, logger, cfg), cfg)
	logger.Info("API router configured")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout + (5 * time.Second), // Slightly longer than handler timeout
		WriteTimeout: cfg.RequestTimeout + (5 * time.Second),
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		var err error
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			logger.Info("Server starting on address", slog.String("protocol", "https"), slog.String("address", server.Addr))
			err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			logger.Info("Server starting on address", slog.String("protocol", "http"), slog.String("address", server.Addr))
			err = server.ListenAndServe()
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			logger.Error("Port is already in use. Is another instance of the server already running?", slog.String("address", server.Addr))
			stop()
		} else if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to start or unexpectedly closed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server graceful shutdown failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Server gracefully stopped")
	}
	logger.Info("Shutdown complete.")
}
