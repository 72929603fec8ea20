// Package reranker provides result re-ranking strategies for improving
// retrieval quality.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid reranker configuration")

	// ErrRerankFailed indicates the strategy could not produce an ordering.
	// Callers keep the pre-rerank ordering when they see this.
	ErrRerankFailed = errors.New("reranking failed")
)

// Candidate is one retrieval result offered for re-ranking.
type Candidate struct {
	ID      string  // Chunk identifier, opaque to the strategy
	Content string  // Text content to be re-ranked
	Score   float64 // Fused retrieval score the candidate arrived with
}

// Reranker reorders candidates by relevance to a query.
type Reranker interface {
	// Rerank returns the candidates reordered best-first. Implementations
	// may rewrite Score with their own relevance measure but must return
	// exactly the candidates they were given, each exactly once.
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)

	// Name identifies the strategy in logs and metrics.
	Name() string

	// Close releases resources held by the strategy.
	Close() error
}

// Config holds configuration for creating a reranker.
type Config struct {
	// Strategy selects the implementation: "none" (default),
	// "cross_encoder" or "llm".
	Strategy string

	// BaseURL is the scoring backend URL. Cross-encoder expects a TEI
	// rerank endpoint, llm expects an Ollama server.
	BaseURL string

	// Model is the model name for the llm strategy.
	Model string

	// Timeout bounds each call to the scoring backend.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = "none"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// New creates a reranker based on the configuration.
func New(cfg Config, logger *zap.Logger) (Reranker, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Strategy {
	case "none":
		return NewNoOp(), nil
	case "cross_encoder":
		return NewCrossEncoder(cfg, logger)
	case "llm":
		return NewLLM(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q (supported: none, cross_encoder, llm)",
			ErrInvalidConfig, cfg.Strategy)
	}
}
