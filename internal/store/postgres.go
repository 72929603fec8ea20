package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nelalabs/retrievald/internal/tenant"
)

// PostgresConfig holds configuration for the pgvector-backed store.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// Dimension is the embedding dimensionality enforced on write.
	// Default: 1024 (mxbai-embed-large).
	Dimension int

	// MaxOpenConns bounds the connection pool. Default: 10.
	MaxOpenConns int
}

// ApplyDefaults sets default values for unset fields.
func (c *PostgresConfig) ApplyDefaults() {
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
}

// Validate validates the configuration.
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: postgres DSN required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// chunkRow is the document_chunks table row.
type chunkRow struct {
	ID          string          `gorm:"column:id;primaryKey"`
	TenantID    string          `gorm:"column:tenant_id;index"`
	DocumentID  string          `gorm:"column:document_id;index"`
	ChunkIndex  int             `gorm:"column:chunk_index"`
	Content     string          `gorm:"column:content"`
	ContentHash string          `gorm:"column:content_hash"`
	SourceName  string          `gorm:"column:source_name"`
	Embedding   pgvector.Vector `gorm:"column:embedding"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
}

func (chunkRow) TableName() string { return "document_chunks" }

// cacheRow is the embedding_cache table row.
type cacheRow struct {
	ContentHash string          `gorm:"column:content_hash;primaryKey"`
	Embedding   pgvector.Vector `gorm:"column:embedding"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
}

func (cacheRow) TableName() string { return "embedding_cache" }

// scoredRow is a search result row with its similarity score.
type scoredRow struct {
	chunkRow
	Score float64 `gorm:"column:score"`
}

// PostgresStore implements Store on PostgreSQL with the pgvector and
// pg_trgm extensions. Vector similarity uses the HNSW cosine index; keyword
// similarity uses trigram matching. Both signals live in one
// document_chunks table, so a batch commit is a single transaction.
type PostgresStore struct {
	db     *gorm.DB
	config PostgresConfig
	logger *zap.Logger
	cache  *postgresCache
}

// NewPostgresStore opens a connection pool and validates connectivity.
func NewPostgresStore(config PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening postgres: %v", ErrStorageUnavailable, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)

	s := &PostgresStore{db: db, config: config, logger: logger}
	s.cache = &postgresCache{store: s}

	logger.Info("postgres store initialized",
		zap.Int("dimension", config.Dimension),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return s, nil
}

// Migrate creates the extensions, tables and indexes. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			content_hash CHAR(64) NOT NULL,
			source_name TEXT NOT NULL DEFAULT '',
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (tenant_id, document_id, chunk_index)
		)`, s.config.Dimension),
		`CREATE INDEX IF NOT EXISTS idx_chunks_tenant_doc
			ON document_chunks (tenant_id, document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw
			ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_content_trgm
			ON document_chunks USING gin (content gin_trgm_ops)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash CHAR(64) PRIMARY KEY,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.config.Dimension),
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("%w: migrating schema: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// CommitBatch persists a chunk batch in one transaction. Conflicting
// (tenant_id, document_id, chunk_index) rows are skipped, making resume
// idempotent. The conflict target is tenant-scoped: document ids are
// caller-supplied, so two tenants may reuse the same id without one
// tenant's rows blocking the other's.
func (s *PostgresStore) CommitBatch(ctx context.Context, tenantID string, chunks []DocumentChunk) error {
	if err := tenant.Validate(tenantID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]chunkRow, 0, len(chunks))
	for _, c := range chunks {
		if c.TenantID != tenantID {
			return fmt.Errorf("%w: chunk %d carries tenant %q", tenant.ErrTenantMismatch, c.ChunkIndex, c.TenantID)
		}
		if len(c.Embedding) != s.config.Dimension {
			return fmt.Errorf("%w: chunk %d has %d dims, store expects %d",
				ErrDimensionMismatch, c.ChunkIndex, len(c.Embedding), s.config.Dimension)
		}
		rows = append(rows, chunkRow{
			ID:          c.ID,
			TenantID:    c.TenantID,
			DocumentID:  c.DocumentID,
			ChunkIndex:  c.ChunkIndex,
			Content:     c.Content,
			ContentHash: c.ContentHash,
			SourceName:  c.SourceName,
			Embedding:   pgvector.NewVector(c.Embedding),
			CreatedAt:   c.CreatedAt,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "document_id"}, {Name: "chunk_index"}},
			DoNothing: true,
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("%w: committing batch: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// VectorSearch runs a cosine-similarity HNSW search filtered by tenant.
// The tenant predicate is part of the query itself, evaluated during the
// index scan, never applied after the fact.
func (s *PostgresStore) VectorSearch(ctx context.Context, tenantID string, queryEmbedding []float32, k int) ([]ScoredChunk, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return nil, err
	}
	if len(queryEmbedding) != s.config.Dimension {
		return nil, fmt.Errorf("%w: query has %d dims, store expects %d",
			ErrDimensionMismatch, len(queryEmbedding), s.config.Dimension)
	}

	vec := pgvector.NewVector(queryEmbedding)
	var rows []scoredRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT id, tenant_id, document_id, chunk_index, content, content_hash,
		       source_name, embedding, created_at,
		       1 - (embedding <=> ?) AS score
		FROM document_chunks
		WHERE tenant_id = ?
		ORDER BY embedding <=> ?
		LIMIT ?`, vec, tenantID, vec, k).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrStorageUnavailable, err)
	}
	return scoredRowsToChunks(rows), nil
}

// KeywordSearch runs a pg_trgm similarity search filtered by tenant.
// Scores are trigram similarity in [0, 1]; the % operator prefilters rows
// below the trigram threshold so the gin index is used.
func (s *PostgresStore) KeywordSearch(ctx context.Context, tenantID string, queryText string, k int) ([]ScoredChunk, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return nil, err
	}

	var rows []scoredRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT id, tenant_id, document_id, chunk_index, content, content_hash,
		       source_name, embedding, created_at,
		       similarity(content, ?) AS score
		FROM document_chunks
		WHERE tenant_id = ? AND content % ?
		ORDER BY score DESC
		LIMIT ?`, queryText, tenantID, queryText, k).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", ErrStorageUnavailable, err)
	}
	return scoredRowsToChunks(rows), nil
}

// LastCommittedIndex returns the highest committed chunk_index, -1 if none.
func (s *PostgresStore) LastCommittedIndex(ctx context.Context, tenantID, documentID string) (int, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return 0, err
	}
	var idx int
	err := s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(MAX(chunk_index), -1)
		FROM document_chunks
		WHERE tenant_id = ? AND document_id = ?`, tenantID, documentID).Scan(&idx).Error
	if err != nil {
		return 0, fmt.Errorf("%w: reading resume cursor: %v", ErrStorageUnavailable, err)
	}
	return idx, nil
}

// CountDocumentChunks returns the committed chunk count for a document.
func (s *PostgresStore) CountDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return 0, err
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&chunkRow{}).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %v", ErrStorageUnavailable, err)
	}
	return count, nil
}

// DeleteDocument removes all chunks of a document.
func (s *PostgresStore) DeleteDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Delete(&chunkRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: deleting document: %v", ErrStorageUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

// Cache returns the embedding cache backed by the embedding_cache table.
func (s *PostgresStore) Cache() EmbeddingCache { return s.cache }

// Dimension returns the configured embedding dimensionality.
func (s *PostgresStore) Dimension() int { return s.config.Dimension }

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// postgresCache implements EmbeddingCache on the embedding_cache table. The
// content_hash primary key is the sole concurrency-control primitive:
// concurrent misses for the same hash race on the insert and the loser
// reads back the winning row.
type postgresCache struct {
	store *PostgresStore
}

func (c *postgresCache) Get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	var row cacheRow
	err := c.store.db.WithContext(ctx).
		Where("content_hash = ?", contentHash).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: cache read: %v", ErrStorageUnavailable, err)
	}
	return row.Embedding.Slice(), true, nil
}

func (c *postgresCache) Put(ctx context.Context, contentHash string, embedding []float32) ([]float32, error) {
	if len(embedding) != c.store.config.Dimension {
		return nil, fmt.Errorf("%w: cache entry has %d dims, store expects %d",
			ErrDimensionMismatch, len(embedding), c.store.config.Dimension)
	}
	row := cacheRow{
		ContentHash: contentHash,
		Embedding:   pgvector.NewVector(embedding),
		CreatedAt:   time.Now().UTC(),
	}
	res := c.store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_hash"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: cache write: %v", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race: return the row that won.
		winner, ok, err := c.Get(ctx, contentHash)
		if err != nil {
			return nil, err
		}
		if ok {
			return winner, nil
		}
		// Row vanished between conflict and read-back; ours is as good.
	}
	return embedding, nil
}

func scoredRowsToChunks(rows []scoredRow) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, ScoredChunk{
			Chunk: DocumentChunk{
				ID:          r.ID,
				TenantID:    r.TenantID,
				DocumentID:  r.DocumentID,
				ChunkIndex:  r.ChunkIndex,
				Content:     r.Content,
				ContentHash: r.ContentHash,
				SourceName:  r.SourceName,
				Embedding:   r.Embedding.Slice(),
				CreatedAt:   r.CreatedAt,
			},
			Score: r.Score,
		})
	}
	return out
}

var _ Store = (*PostgresStore)(nil)
