package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nelalabs/retrievald/internal/fingerprint"
	"github.com/nelalabs/retrievald/internal/store"
)

// Cache wraps a Provider with a content-addressed embedding cache. Lookups
// key on the SHA-256 of the exact chunk text, so a vector computed for one
// document is reused by every later document containing the same chunk.
type Cache struct {
	backing  store.EmbeddingCache
	provider Provider
	logger   *zap.Logger
	metrics  *Metrics
}

// NewCache creates a cache over the given backing store and provider.
func NewCache(backing store.EmbeddingCache, provider Provider, logger *zap.Logger) (*Cache, error) {
	if backing == nil {
		return nil, fmt.Errorf("%w: backing cache required", ErrInvalidConfig)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: provider required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		backing:  backing,
		provider: provider,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}, nil
}

// GetOrCompute returns the embedding for content, computing and storing it
// on a cache miss. When two callers race on the same content the first
// stored vector wins and both callers get it back.
func (c *Cache) GetOrCompute(ctx context.Context, content string) ([]float32, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", ErrEmptyInput)
	}

	hash := fingerprint.Hash(content)

	cached, ok, err := c.backing.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("cache lookup for %s: %w", hash[:12], err)
	}
	c.metrics.RecordCacheLookup(ctx, ok)
	if ok {
		return cached, nil
	}

	vector, err := c.provider.EmbedQuery(ctx, content)
	if err != nil {
		return nil, err
	}

	stored, err := c.backing.Put(ctx, hash, vector)
	if err != nil {
		return nil, fmt.Errorf("cache store for %s: %w", hash[:12], err)
	}
	return stored, nil
}

// EmbedQuery embeds a query through the cache. Repeated queries are hits
// just like repeated chunks.
func (c *Cache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.GetOrCompute(ctx, text)
}

// Dimension returns the dimensionality of vectors the cache hands out.
func (c *Cache) Dimension() int { return c.provider.Dimension() }
