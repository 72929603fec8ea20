// Package retrieval runs hybrid search: vector and keyword results are
// fetched in parallel breadth, fused with weighted scores, optionally
// re-ranked, and truncated to the requested size.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nelalabs/retrievald/internal/reranker"
	"github.com/nelalabs/retrievald/internal/store"
	"github.com/nelalabs/retrievald/internal/tenant"
)

var (
	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid retrieval configuration")

	// ErrEmptyQuery indicates an empty query string
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Embedder turns a query into a vector. *embeddings.Cache and any
// embeddings.Provider satisfy it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the store a Ranker needs.
type Searcher interface {
	store.VectorSearcher
	store.KeywordSearcher
}

// Config holds configuration for a Ranker.
type Config struct {
	// DefaultK is the result count when the caller passes k <= 0.
	DefaultK int

	// FetchMultiplier widens both index fetches to k*FetchMultiplier so
	// fusion has candidates that only one index surfaced.
	FetchMultiplier int

	// VectorWeight and KeywordWeight blend the two signals. They must sum
	// to 1.
	VectorWeight  float64
	KeywordWeight float64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultK == 0 {
		c.DefaultK = 5
	}
	if c.FetchMultiplier == 0 {
		c.FetchMultiplier = 3
	}
	if c.VectorWeight == 0 && c.KeywordWeight == 0 {
		c.VectorWeight = 0.7
		c.KeywordWeight = 0.3
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.DefaultK <= 0 {
		return fmt.Errorf("%w: default k must be positive", ErrInvalidConfig)
	}
	if c.FetchMultiplier < 1 {
		return fmt.Errorf("%w: fetch multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.VectorWeight < 0 || c.KeywordWeight < 0 {
		return fmt.Errorf("%w: weights cannot be negative", ErrInvalidConfig)
	}
	if math.Abs(c.VectorWeight+c.KeywordWeight-1) > 1e-9 {
		return fmt.Errorf("%w: weights must sum to 1, got %v", ErrInvalidConfig, c.VectorWeight+c.KeywordWeight)
	}
	return nil
}

// Result is one retrieved chunk with the scores that placed it.
type Result struct {
	Chunk store.DocumentChunk

	// VectorScore is cosine similarity, 0 when only the keyword index
	// surfaced the chunk.
	VectorScore float64

	// KeywordScore is trigram similarity, 0 when only the vector index
	// surfaced the chunk.
	KeywordScore float64

	// FusedScore is the weighted blend the final ordering is based on,
	// before any re-ranking.
	FusedScore float64

	// Rank is the final 0-indexed position.
	Rank int
}

// Ranker runs hybrid retrieval against a store.
type Ranker struct {
	config   Config
	searcher Searcher
	embedder Embedder
	reranker reranker.Reranker
	logger   *zap.Logger
	metrics  *Metrics
}

// NewRanker creates a Ranker. The reranker may be nil, which disables
// re-ranking entirely.
func NewRanker(cfg Config, searcher Searcher, embedder Embedder, rr reranker.Reranker, logger *zap.Logger) (*Ranker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if searcher == nil {
		return nil, fmt.Errorf("%w: searcher required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{
		config:   cfg,
		searcher: searcher,
		embedder: embedder,
		reranker: rr,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}, nil
}

// Retrieve returns the top k chunks for a query within a tenant. The same
// store state, query and k always produce the same results in the same
// order.
func (r *Ranker) Retrieve(ctx context.Context, tenantID, query string, k int) ([]Result, error) {
	start := time.Now()
	var retErr error
	defer func() {
		r.metrics.RecordQuery(ctx, time.Since(start), retErr)
	}()

	if err := tenant.Validate(tenantID); err != nil {
		retErr = err
		return nil, retErr
	}
	if err := tenant.CheckContext(ctx, tenantID); err != nil {
		retErr = err
		return nil, retErr
	}
	if query == "" {
		retErr = ErrEmptyQuery
		return nil, retErr
	}
	if k <= 0 {
		k = r.config.DefaultK
	}

	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		retErr = fmt.Errorf("embedding query: %w", err)
		return nil, retErr
	}

	fetch := k * r.config.FetchMultiplier
	vectorHits, err := r.searcher.VectorSearch(ctx, tenantID, queryEmbedding, fetch)
	if err != nil {
		retErr = fmt.Errorf("vector search: %w", err)
		return nil, retErr
	}
	keywordHits, err := r.searcher.KeywordSearch(ctx, tenantID, query, fetch)
	if err != nil {
		retErr = fmt.Errorf("keyword search: %w", err)
		return nil, retErr
	}

	results := r.fuse(vectorHits, keywordHits)
	results = r.rerank(ctx, query, results)

	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i
	}
	return results, nil
}

// fuse merges both hit lists by chunk ID. A chunk surfaced by only one
// index keeps a zero score for the other signal rather than being dropped.
func (r *Ranker) fuse(vectorHits, keywordHits []store.ScoredChunk) []Result {
	merged := make(map[string]*Result, len(vectorHits)+len(keywordHits))
	for _, hit := range vectorHits {
		merged[hit.Chunk.ID] = &Result{Chunk: hit.Chunk, VectorScore: hit.Score}
	}
	for _, hit := range keywordHits {
		if existing, ok := merged[hit.Chunk.ID]; ok {
			existing.KeywordScore = hit.Score
			continue
		}
		merged[hit.Chunk.ID] = &Result{Chunk: hit.Chunk, KeywordScore: hit.Score}
	}

	results := make([]Result, 0, len(merged))
	for _, res := range merged {
		res.FusedScore = r.config.VectorWeight*res.VectorScore + r.config.KeywordWeight*res.KeywordScore
		results = append(results, *res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if results[i].Chunk.ChunkIndex != results[j].Chunk.ChunkIndex {
			return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
		}
		return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
	})
	return results
}

// rerank reorders results through the configured strategy. A failing
// strategy degrades to the fused ordering instead of failing the query.
func (r *Ranker) rerank(ctx context.Context, query string, results []Result) []Result {
	if r.reranker == nil || len(results) == 0 {
		return results
	}

	candidates := make([]reranker.Candidate, len(results))
	byID := make(map[string]Result, len(results))
	for i, res := range results {
		candidates[i] = reranker.Candidate{
			ID:      res.Chunk.ID,
			Content: res.Chunk.Content,
			Score:   res.FusedScore,
		}
		byID[res.Chunk.ID] = res
	}

	reordered, err := r.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		r.logger.Warn("reranking failed, keeping fused order",
			zap.String("strategy", r.reranker.Name()),
			zap.Error(err))
		r.metrics.RecordRerankFallback(ctx, r.reranker.Name())
		return results
	}
	if len(reordered) != len(results) {
		r.logger.Warn("reranker changed candidate count, keeping fused order",
			zap.String("strategy", r.reranker.Name()),
			zap.Int("got", len(reordered)),
			zap.Int("want", len(results)))
		r.metrics.RecordRerankFallback(ctx, r.reranker.Name())
		return results
	}

	out := make([]Result, 0, len(reordered))
	for _, c := range reordered {
		res, ok := byID[c.ID]
		if !ok {
			r.logger.Warn("reranker invented a candidate, keeping fused order",
				zap.String("strategy", r.reranker.Name()),
				zap.String("id", c.ID))
			r.metrics.RecordRerankFallback(ctx, r.reranker.Name())
			return results
		}
		delete(byID, c.ID)
		out = append(out, res)
	}
	return out
}
