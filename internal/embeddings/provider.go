package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProviderUnavailable indicates the embedding backend could not be
	// reached or refused the request
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderTimeout indicates the per-call deadline elapsed before the
	// backend answered
	ErrProviderTimeout = errors.New("embedding provider timed out")

	// ErrMalformedResponse indicates the backend answered with a payload
	// that cannot be used, including vectors of the wrong dimensionality
	ErrMalformedResponse = errors.New("malformed embedding response")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts. Ingestion
	// does not use it: each chunk goes through Cache.GetOrCompute
	// individually so cache hits skip the provider per chunk. It exists
	// for callers that embed uncached corpora wholesale.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type. Only "ollama" is supported.
	Provider string

	// BaseURL is the Ollama server URL.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Dimension is the expected embedding dimensionality. Vectors of any
	// other size are rejected as malformed.
	Dimension int

	// Timeout bounds each request to the backend.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "mxbai-embed-large"
	}
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "ollama":
		return NewOllamaProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
