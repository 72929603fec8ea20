// Package config provides configuration loading for retrievald.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for retrievald.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Chunking  ChunkingConfig  `koanf:"chunking"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Rerank    RerankConfig    `koanf:"rerank"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Provider is "embedded" or "postgres".
	Provider string `koanf:"provider"`

	// DSN is the Postgres connection string (postgres provider only).
	DSN Secret `koanf:"dsn"`

	// MaxOpenConns bounds the Postgres connection pool.
	MaxOpenConns int `koanf:"max_open_conns"`

	// Path is the persistence directory for the embedded provider. Empty
	// keeps everything in memory.
	Path string `koanf:"path"`

	// Compress enables gzip for persisted embedded data.
	Compress bool `koanf:"compress"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string   `koanf:"provider"`
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	Dimension int      `koanf:"dimension"`
	Timeout   Duration `koanf:"timeout"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	TargetTokens  int    `koanf:"target_tokens"`
	OverlapTokens int    `koanf:"overlap_tokens"`
	MaxChunks     int    `koanf:"max_chunks"`
	Encoding      string `koanf:"encoding"`
}

// RetrievalConfig configures hybrid search.
type RetrievalConfig struct {
	DefaultK        int     `koanf:"default_k"`
	FetchMultiplier int     `koanf:"fetch_multiplier"`
	VectorWeight    float64 `koanf:"vector_weight"`
	KeywordWeight   float64 `koanf:"keyword_weight"`
}

// RerankConfig configures the re-ranking strategy.
type RerankConfig struct {
	Strategy string   `koanf:"strategy"`
	BaseURL  string   `koanf:"base_url"`
	Model    string   `koanf:"model"`
	Timeout  Duration `koanf:"timeout"`
}

// IngestConfig configures the ingestion service.
type IngestConfig struct {
	BatchSize      int      `koanf:"batch_size"`
	Workers        int      `koanf:"workers"`
	QueueSize      int      `koanf:"queue_size"`
	MaxRetries     int      `koanf:"max_retries"`
	RetryBaseDelay Duration `koanf:"retry_base_delay"`
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	ExportInterval Duration `koanf:"export_interval"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// applyDefaults fills every unset field with its default. The concrete
// services re-apply their own defaults, so this only has to cover fields
// validated here.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "embedded"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "mxbai-embed-large"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 1024
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}

	if cfg.Chunking.TargetTokens == 0 {
		cfg.Chunking.TargetTokens = 768
	}
	if cfg.Chunking.OverlapTokens == 0 {
		cfg.Chunking.OverlapTokens = 75
	}
	if cfg.Chunking.MaxChunks == 0 {
		cfg.Chunking.MaxChunks = 1000
	}
	if cfg.Chunking.Encoding == "" {
		cfg.Chunking.Encoding = "cl100k_base"
	}

	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 5
	}
	if cfg.Retrieval.FetchMultiplier == 0 {
		cfg.Retrieval.FetchMultiplier = 3
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.7
		cfg.Retrieval.KeywordWeight = 0.3
	}

	if cfg.Rerank.Strategy == "" {
		cfg.Rerank.Strategy = "none"
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = Duration(30 * time.Second)
	}

	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 400
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 64
	}
	if cfg.Ingest.MaxRetries == 0 {
		cfg.Ingest.MaxRetries = 3
	}
	if cfg.Ingest.RetryBaseDelay == 0 {
		cfg.Ingest.RetryBaseDelay = Duration(200 * time.Millisecond)
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "retrievald"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks cross-field constraints the services cannot see.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "embedded", "postgres":
	default:
		return fmt.Errorf("storage.provider must be embedded or postgres, got %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "postgres" && !c.Storage.DSN.IsSet() {
		return fmt.Errorf("storage.dsn is required for the postgres provider")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
