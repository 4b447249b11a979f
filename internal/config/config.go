// Package config loads configuration from environment variables and .env files.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the RAG service.
type Config struct {
	// Server
	HTTPPort     int           `env:"HTTP_PORT" envDefault:"8080"`
	Environment  string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	UploadDir    string        `env:"UPLOAD_DIR" envDefault:"/tmp/rag-uploads"`
	ShutdownWait time.Duration `env:"SHUTDOWN_WAIT" envDefault:"30s"`

	// Qdrant
	QdrantGRPCURL string `env:"QDRANT_GRPC_URL" envDefault:"localhost:6334"`

	// Redis holds the job-state store and dispatch queue. Connection failure at startup is fatal.
	RedisURL string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	JobTTL   time.Duration `env:"JOB_TTL" envDefault:"48h"`

	// DatabaseURL backs the optional job audit trail (internal/job/audit_postgres.go).
	// Empty disables the writer; it is the only optional dependency in the service.
	DatabaseURL string `env:"DATABASE_URL"`

	// Primary remote LLM provider.
	PProvider string `env:"P_PROVIDER" envDefault:"anthropic"`
	PAPIKey   string `env:"P_API_KEY"`
	PModel    string `env:"P_MODEL" envDefault:"claude-3-7-sonnet-latest"`
	PURL      string `env:"P_URL"`

	// Local fallback LLM provider.
	FProvider string `env:"F_PROVIDER" envDefault:"ollama"`
	FModel    string `env:"F_MODEL" envDefault:"llama3.2"`
	FURL      string `env:"F_URL" envDefault:"http://localhost:11434"`

	// Hybrid embedder.
	EmbedderURL        string `env:"EMBEDDER_URL" envDefault:"http://localhost:11434"`
	EmbedderModel      string `env:"EMBEDDER_MODEL" envDefault:"nomic-embed-text"`
	EmbedderDimension  int    `env:"EMBEDDER_DIMENSION" envDefault:"384"`
	EmbedderSparseDims int    `env:"EMBEDDER_SPARSE_DIMENSION" envDefault:"65536"`

	// Cost tracker idle TTL.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Worker poll interval and parallelism.
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// CORS
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load loads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
