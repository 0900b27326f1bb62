package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache / ledger / queue
	RedisAddr string

	// Inference provider
	InferenceBaseURL string
	InferenceAPIKey  string

	// Embedding provider
	EmbeddingBaseURL   string
	EmbeddingModel     string
	EmbeddingDimension int // default: 384

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Budgets
	BaseDailyLimitCents      int64 // free-tier daily ceiling, default: 500
	DefaultMonthlyLimitCents int64 // free-tier monthly ceiling, default: 10000
	ResponseTokenBuffer      int   // added to prompt estimate at admission, default: 500

	// Async workers
	WorkerConcurrency  int           // default: 4
	WorkerPollInterval time.Duration // default: 500ms
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		InferenceBaseURL:     getEnv("INFERENCE_BASE_URL", "https://api.openai.com/v1"),
		InferenceAPIKey:      os.Getenv("INFERENCE_API_KEY"),
		EmbeddingBaseURL:     getEnv("EMBEDDING_BASE_URL", "http://localhost:11434"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.EmbeddingDimension, err = getEnvInt("EMBEDDING_DIMENSION", 384); err != nil {
		return nil, err
	}
	if cfg.ResponseTokenBuffer, err = getEnvInt("RESPONSE_TOKEN_BUFFER", 500); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = getEnvInt("WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.BaseDailyLimitCents, err = getEnvInt64("BASE_DAILY_LIMIT_CENTS", 500); err != nil {
		return nil, err
	}
	if cfg.DefaultMonthlyLimitCents, err = getEnvInt64("DEFAULT_MONTHLY_LIMIT_CENTS", 10000); err != nil {
		return nil, err
	}

	pollStr := getEnv("WORKER_POLL_INTERVAL", "500ms")
	cfg.WorkerPollInterval, err = time.ParseDuration(pollStr)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_POLL_INTERVAL: %w", err)
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.EmbeddingDimension <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIMENSION must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, err := getEnvInt64(key, int64(fallback))
	return int(v), err
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
