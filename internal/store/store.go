// Package store persists document chunks and cached embeddings and answers
// tenant-scoped vector and keyword similarity queries.
//
// Two backends implement the same repositories: PostgresStore (pgvector +
// pg_trgm, the production target) and EmbeddedStore (chromem-go plus an
// in-memory trigram index, for local use and tests). Exactly one backend is
// selected at startup; they never coexist at runtime.
//
// Tenant isolation is enforced as a mandatory filter predicate inside every
// query and write, never as post-filtering. A missing tenant scope is an
// error, not an empty result set.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStorageUnavailable indicates the backing store could not serve a
	// read or commit a batch. Already-committed batches remain valid.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDimensionMismatch is returned when an embedding's dimensionality
	// does not match the store's configured dimension. Caught on write so
	// a misconfigured embedder can never corrupt an index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// DocumentChunk is one indexed unit of a document. Chunks are immutable
// once written; a re-upload creates a new document id with a disjoint set
// of chunks.
type DocumentChunk struct {
	// ID uniquely identifies the chunk.
	ID string

	// TenantID scopes the chunk to one tenant. Required on every row.
	TenantID string

	// DocumentID identifies the owning document.
	DocumentID string

	// ChunkIndex is the zero-based position within the document. Values
	// for a document are contiguous starting at 0.
	ChunkIndex int

	// Content is the chunk text.
	Content string

	// ContentHash is the fingerprint of Content.
	ContentHash string

	// SourceName is the declared source filename carried through to
	// retrieval results.
	SourceName string

	// Embedding is the fixed-dimension vector for Content.
	Embedding []float32

	CreatedAt time.Time
}

// ScoredChunk pairs a chunk with a similarity score from one index.
type ScoredChunk struct {
	Chunk DocumentChunk

	// Score is cosine similarity for vector results (range [-1, 1], in
	// practice non-negative for normalized embedding models) and trigram
	// similarity for keyword results (range [0, 1]).
	Score float64
}

// VectorSearcher answers approximate-nearest-neighbor queries over chunk
// embeddings, scoped to one tenant.
type VectorSearcher interface {
	// VectorSearch returns up to k chunks ordered by cosine similarity to
	// queryEmbedding, highest first. Only chunks of the given tenant are
	// candidates; the filter is applied during the search itself.
	VectorSearch(ctx context.Context, tenantID string, queryEmbedding []float32, k int) ([]ScoredChunk, error)
}

// KeywordSearcher answers lexical-similarity queries over chunk text,
// scoped to one tenant.
type KeywordSearcher interface {
	// KeywordSearch returns up to k chunks ordered by trigram similarity
	// to queryText, highest first, normalized to [0, 1].
	KeywordSearch(ctx context.Context, tenantID string, queryText string, k int) ([]ScoredChunk, error)
}

// BatchWriter persists chunk batches for the ingestion pipeline.
type BatchWriter interface {
	// CommitBatch atomically persists a batch of chunks to both the
	// vector and keyword index: the batch either fully persists or fully
	// rolls back. Re-committing an already-committed (document_id,
	// chunk_index) pair is a no-op, which makes resume idempotent.
	//
	// Every chunk must carry the given tenant id and an embedding of the
	// store's configured dimension.
	CommitBatch(ctx context.Context, tenantID string, chunks []DocumentChunk) error
}

// EmbeddingCache stores content-addressed embeddings. The cache is
// tenant-agnostic: identical text yields identical embeddings regardless of
// tenant.
type EmbeddingCache interface {
	// Get returns the cached embedding for a content hash, if present.
	Get(ctx context.Context, contentHash string) ([]float32, bool, error)

	// Put inserts an embedding under a content hash and returns the
	// winning row. If a concurrent writer already inserted the same hash,
	// the stored embedding is returned and the argument is discarded:
	// duplicate computation is acceptable, duplicate storage is not.
	Put(ctx context.Context, contentHash string, embedding []float32) ([]float32, error)
}

// Store is the full persistence surface used by the ingestion pipeline and
// the hybrid ranker.
type Store interface {
	VectorSearcher
	KeywordSearcher
	BatchWriter

	// LastCommittedIndex returns the highest committed chunk_index for a
	// document, or -1 when no chunk has been committed. Used as the
	// resume cursor after a partial ingestion.
	LastCommittedIndex(ctx context.Context, tenantID, documentID string) (int, error)

	// CountDocumentChunks returns the number of committed chunks for a
	// document.
	CountDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error)

	// DeleteDocument removes all chunks of a document and returns the
	// number of chunks deleted.
	DeleteDocument(ctx context.Context, tenantID, documentID string) (int64, error)

	// Cache returns the content-addressed embedding cache.
	Cache() EmbeddingCache

	// Dimension returns the embedding dimensionality enforced on write.
	Dimension() int

	// Close releases backend resources.
	Close() error
}
