package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/nelalabs/retrievald/internal/fingerprint"
	"github.com/nelalabs/retrievald/internal/tenant"
)

// EmbeddedConfig holds configuration for the chromem-go backed store.
type EmbeddedConfig struct {
	// Path is the directory for persistent storage. Empty means purely
	// in-memory (tests, throwaway local runs).
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool

	// Dimension is the embedding dimensionality enforced on write.
	// Default: 1024.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *EmbeddedConfig) ApplyDefaults() {
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
}

// Validate validates the configuration.
func (c EmbeddedConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// EmbeddedStore implements Store with chromem-go for vector search and an
// in-memory trigram index for keyword search. One chromem collection per
// tenant keeps isolation structural: a query can only ever scan the
// collection of its own tenant.
type EmbeddedStore struct {
	db     *chromem.DB
	config EmbeddedConfig
	logger *zap.Logger
	cache  *memoryCache

	mu     sync.RWMutex
	chunks map[string]map[string]DocumentChunk // tenant id -> chunk id -> chunk
	grams  map[string]map[string]struct{}      // chunk id -> trigram set
}

// NewEmbeddedStore creates an EmbeddedStore. With an empty path the store
// lives entirely in memory.
func NewEmbeddedStore(config EmbeddedConfig, logger *zap.Logger) (*EmbeddedStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var db *chromem.DB
	var err error
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem at %s: %v", ErrStorageUnavailable, config.Path, err)
		}
	}

	s := &EmbeddedStore{
		db:     db,
		config: config,
		logger: logger,
		cache:  newMemoryCache(config.Dimension),
		chunks: make(map[string]map[string]DocumentChunk),
		grams:  make(map[string]map[string]struct{}),
	}
	logger.Info("embedded store initialized",
		zap.String("path", config.Path),
		zap.Int("dimension", config.Dimension),
	)
	return s, nil
}

// collectionName derives a stable, filesystem-safe collection name for a
// tenant.
func collectionName(tenantID string) string {
	return "tenant_" + fingerprint.Hash(tenantID)[:16]
}

// rejectEmbeddingFunc guards against chromem ever trying to embed on its
// own: the pipeline always supplies embeddings through the cache.
func rejectEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("store must not compute embeddings")
}

func (s *EmbeddedStore) collection(tenantID string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(collectionName(tenantID), nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant collection: %v", ErrStorageUnavailable, err)
	}
	return col, nil
}

// CommitBatch persists a chunk batch. Validation happens up front so a bad
// chunk cannot leave a half-written batch; a failed chromem add is rolled
// back by deleting the ids written so far.
func (s *EmbeddedStore) CommitBatch(ctx context.Context, tenantID string, chunks []DocumentChunk) error {
	if err := tenant.Validate(tenantID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.chunks[tenantID]
	if byID == nil {
		byID = make(map[string]DocumentChunk)
		s.chunks[tenantID] = byID
	}

	docs := make([]chromem.Document, 0, len(chunks))
	fresh := make([]DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.TenantID != tenantID {
			return fmt.Errorf("%w: chunk %d carries tenant %q", tenant.ErrTenantMismatch, c.ChunkIndex, c.TenantID)
		}
		if len(c.Embedding) != s.config.Dimension {
			return fmt.Errorf("%w: chunk %d has %d dims, store expects %d",
				ErrDimensionMismatch, c.ChunkIndex, len(c.Embedding), s.config.Dimension)
		}
		if chunkCommitted(byID, c) {
			continue // resume re-commit, no-op
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: c.Embedding,
			Metadata: map[string]string{
				"tenant_id":   c.TenantID,
				"document_id": c.DocumentID,
			},
		})
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		fresh = append(fresh, c)
	}
	if len(docs) == 0 {
		return nil
	}

	col, err := s.collection(tenantID)
	if err != nil {
		return err
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		_ = col.Delete(ctx, nil, nil, ids...)
		return fmt.Errorf("%w: committing batch: %v", ErrStorageUnavailable, err)
	}
	for _, c := range fresh {
		byID[c.ID] = c
		s.grams[c.ID] = trigrams(c.Content)
	}
	return nil
}

// chunkCommitted reports whether a (document, index) pair is already
// committed for the tenant.
func chunkCommitted(byID map[string]DocumentChunk, c DocumentChunk) bool {
	if _, ok := byID[c.ID]; ok {
		return true
	}
	for _, existing := range byID {
		if existing.DocumentID == c.DocumentID && existing.ChunkIndex == c.ChunkIndex {
			return true
		}
	}
	return false
}

// VectorSearch queries the tenant's chromem collection by embedding.
func (s *EmbeddedStore) VectorSearch(ctx context.Context, tenantID string, queryEmbedding []float32, k int) ([]ScoredChunk, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return nil, err
	}
	if len(queryEmbedding) != s.config.Dimension {
		return nil, fmt.Errorf("%w: query has %d dims, store expects %d",
			ErrDimensionMismatch, len(queryEmbedding), s.config.Dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.chunks[tenantID]
	if len(byID) == 0 {
		return nil, nil
	}
	col, err := s.collection(tenantID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size.
	n := k
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrStorageUnavailable, err)
	}

	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		chunk, ok := byID[r.ID]
		if !ok {
			continue
		}
		out = append(out, ScoredChunk{Chunk: chunk, Score: float64(r.Similarity)})
	}
	return out, nil
}

// KeywordSearch scores the tenant's chunks by trigram similarity.
func (s *EmbeddedStore) KeywordSearch(ctx context.Context, tenantID string, queryText string, k int) ([]ScoredChunk, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queryGrams := trigrams(queryText)
	var out []ScoredChunk
	for id, chunk := range s.chunks[tenantID] {
		score := trigramSimilarity(queryGrams, s.grams[id])
		if score <= 0 {
			continue
		}
		out = append(out, ScoredChunk{Chunk: chunk, Score: score})
	}

	// Ties break the same way fused results do, chunk index before
	// document id, so truncation at k is deterministic end to end.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Chunk.ChunkIndex != out[j].Chunk.ChunkIndex {
			return out[i].Chunk.ChunkIndex < out[j].Chunk.ChunkIndex
		}
		return out[i].Chunk.DocumentID < out[j].Chunk.DocumentID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// LastCommittedIndex returns the highest committed chunk_index, -1 if none.
func (s *EmbeddedStore) LastCommittedIndex(ctx context.Context, tenantID, documentID string) (int, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := -1
	for _, chunk := range s.chunks[tenantID] {
		if chunk.DocumentID == documentID && chunk.ChunkIndex > last {
			last = chunk.ChunkIndex
		}
	}
	return last, nil
}

// CountDocumentChunks returns the committed chunk count for a document.
func (s *EmbeddedStore) CountDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, chunk := range s.chunks[tenantID] {
		if chunk.DocumentID == documentID {
			count++
		}
	}
	return count, nil
}

// DeleteDocument removes all chunks of a document.
func (s *EmbeddedStore) DeleteDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.chunks[tenantID]
	var ids []string
	for id, chunk := range byID {
		if chunk.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	col, err := s.collection(tenantID)
	if err != nil {
		return 0, err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("%w: deleting document: %v", ErrStorageUnavailable, err)
	}
	for _, id := range ids {
		delete(byID, id)
		delete(s.grams, id)
	}
	return int64(len(ids)), nil
}

// Cache returns the in-memory embedding cache.
func (s *EmbeddedStore) Cache() EmbeddingCache { return s.cache }

// Dimension returns the configured embedding dimensionality.
func (s *EmbeddedStore) Dimension() int { return s.config.Dimension }

// Close is a no-op for the embedded store; persistence is write-through.
func (s *EmbeddedStore) Close() error { return nil }

// memoryCache implements EmbeddingCache with a map guarded by a mutex. The
// first writer for a hash wins; later writers get the stored vector back.
type memoryCache struct {
	dimension int

	mu      sync.RWMutex
	entries map[string][]float32
}

func newMemoryCache(dimension int) *memoryCache {
	return &memoryCache{
		dimension: dimension,
		entries:   make(map[string][]float32),
	}
}

func (c *memoryCache) Get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	emb, ok := c.entries[contentHash]
	if !ok {
		return nil, false, nil
	}
	out := make([]float32, len(emb))
	copy(out, emb)
	return out, true, nil
}

func (c *memoryCache) Put(ctx context.Context, contentHash string, embedding []float32) ([]float32, error) {
	if len(embedding) != c.dimension {
		return nil, fmt.Errorf("%w: cache entry has %d dims, store expects %d",
			ErrDimensionMismatch, len(embedding), c.dimension)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[contentHash]; ok {
		out := make([]float32, len(existing))
		copy(out, existing)
		return out, nil
	}
	stored := make([]float32, len(embedding))
	copy(stored, embedding)
	c.entries[contentHash] = stored
	return embedding, nil
}

var (
	_ Store          = (*EmbeddedStore)(nil)
	_ EmbeddingCache = (*memoryCache)(nil)
)
