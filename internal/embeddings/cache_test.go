package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelalabs/retrievald/internal/store"
)

// countingProvider returns a fixed vector and records how often it runs.
type countingProvider struct {
	vector []float32
	calls  int
	err    error
}

func (p *countingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts {
		v, err := p.EmbedQuery(ctx, "x")
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.vector, nil
}

func (p *countingProvider) Dimension() int { return len(p.vector) }
func (p *countingProvider) Close() error   { return nil }

func newTestCache(t *testing.T, p Provider) *Cache {
	t.Helper()
	s, err := store.NewEmbeddedStore(store.EmbeddedConfig{Dimension: p.Dimension()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c, err := NewCache(s.Cache(), p, nil)
	require.NoError(t, err)
	return c
}

func TestCacheComputesOnceForIdenticalContent(t *testing.T) {
	p := &countingProvider{vector: []float32{1, 2, 3}}
	c := newTestCache(t, p)
	ctx := context.Background()

	first, err := c.GetOrCompute(ctx, "the same paragraph")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, first)
	assert.Equal(t, 1, p.calls)

	// Same content, even arriving from a different document, is a hit.
	second, err := c.GetOrCompute(ctx, "the same paragraph")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.calls)

	// Different content computes again.
	_, err = c.GetOrCompute(ctx, "a different paragraph")
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestCacheRejectsEmptyContent(t *testing.T) {
	p := &countingProvider{vector: []float32{1, 2, 3}}
	c := newTestCache(t, p)

	_, err := c.GetOrCompute(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, p.calls)
}

func TestCachePropagatesProviderFailure(t *testing.T) {
	p := &countingProvider{vector: []float32{1, 2, 3}, err: ErrProviderUnavailable}
	c := newTestCache(t, p)
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "some content")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	// Nothing was cached, so recovery recomputes and succeeds.
	p.err = nil
	vector, err := c.GetOrCompute(ctx, "some content")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vector)
	assert.Equal(t, 2, p.calls)
}

func TestCachePropagatesBackingFailure(t *testing.T) {
	p := &countingProvider{vector: []float32{1, 2}}
	s, err := store.NewEmbeddedStore(store.EmbeddedConfig{Dimension: 3}, nil)
	require.NoError(t, err)
	defer s.Close()

	// The backing store expects 3 dims, the provider produces 2. The Put
	// rejection must surface instead of being swallowed.
	c, err := NewCache(s.Cache(), p, nil)
	require.NoError(t, err)

	_, err = c.GetOrCompute(context.Background(), "some content")
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestNewCacheValidation(t *testing.T) {
	p := &countingProvider{vector: []float32{1}}

	_, err := NewCache(nil, p, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := store.NewEmbeddedStore(store.EmbeddedConfig{Dimension: 1}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = NewCache(s.Cache(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	c, err := NewCache(s.Cache(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Dimension())
}
