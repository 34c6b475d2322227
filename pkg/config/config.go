package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration values.
type Config struct {
	Port             string
	CertFile         string // Serve HTTPS when both CertFile and KeyFile are set
	KeyFile          string
	RabbitMQ_URL     string
	Postgres_DSN     string
	MinIO_Endpoint   string
	MinIO_AccessKey  string
	MinIO_SecretKey  string
	MinIO_UseSSL     bool
	MinIO_BucketName string
	LogLevel         string // e.g., "debug", "info", "warn", "error"
	RequestTimeout   time.Duration
	RunMigrations    bool // Apply DB migrations at startup

	// Engine settings
	DefinitionsDir        string        // Case definitions and functions/<env> scripts
	EnvCode               string        // Environment whose function scripts are loaded
	StepTimeout           time.Duration // Applied to steps that declare none
	WebDriverURL          string        // Browser automation endpoint; web steps are disabled when empty
	WebDriverCapabilities string        // JSON object
	AppiumURL             string        // Mobile automation endpoint; app steps are disabled when empty
	AppiumCapabilities    string        // JSON object
	WorkerProjects        []string      // Queues polled by the worker
	PollInterval          time.Duration
	ParallelLimit         int // Max concurrent cases per run, 0 for unbounded
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	getenv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	getenvBool := func(key string, fallback bool) bool {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.ParseBool(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	getenvDuration := func(key string, fallback time.Duration) time.Duration {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := time.ParseDuration(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	getenvInt := func(key string, fallback int) int {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.Atoi(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	cfg := &Config{
		Port:             getenv("PORT", "8080"),
		CertFile:         getenv("CERT_FILE", ""),
		KeyFile:          getenv("KEY_FILE", ""),
		RabbitMQ_URL:     getenv("RABBITMQ_URL", "amqp://localhost:5672/"),
		Postgres_DSN:     getenv("POSTGRES_DSN", "postgres://localhost:5432/geaman?sslmode=disable"),
		MinIO_Endpoint:   getenv("MINIO_ENDPOINT", "localhost:9000"),
		MinIO_AccessKey:  getenv("MINIO_ACCESS_KEY", ""), // Must be set in .env
		MinIO_SecretKey:  getenv("MINIO_SECRET_KEY", ""), // Must be set in .env
		MinIO_UseSSL:     getenvBool("MINIO_USE_SSL", false),
		MinIO_BucketName: getenv("MINIO_BUCKET_NAME", "test-artifacts"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		RequestTimeout:   getenvDuration("REQUEST_TIMEOUT", 15*time.Second),
		RunMigrations:    getenvBool("RUN_MIGRATIONS", true),

		DefinitionsDir:        getenv("DEFINITIONS_DIR", "./cases"),
		EnvCode:               getenv("ENV_CODE", ""),
		StepTimeout:           getenvDuration("STEP_TIMEOUT", 30*time.Second),
		WebDriverURL:          getenv("WEBDRIVER_URL", ""),
		WebDriverCapabilities: getenv("WEBDRIVER_CAPABILITIES", `{"browserName":"chrome"}`),
		AppiumURL:             getenv("APPIUM_URL", ""),
		AppiumCapabilities:    getenv("APPIUM_CAPABILITIES", "{}"),
		WorkerProjects:        splitList(getenv("WORKER_PROJECTS", "")),
		PollInterval:          getenvDuration("POLL_INTERVAL", 5*time.Second),
		ParallelLimit:         getenvInt("PARALLEL_LIMIT", 0),
	}

	if cfg.StepTimeout <= 0 {
		return nil, fmt.Errorf("STEP_TIMEOUT must be positive, got %s", cfg.StepTimeout)
	}
	if cfg.ParallelLimit < 0 {
		return nil, fmt.Errorf("PARALLEL_LIMIT must not be negative, got %d", cfg.ParallelLimit)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
