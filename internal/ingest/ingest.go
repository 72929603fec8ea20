// Package ingest turns documents into committed chunk batches: split,
// embed through the cache, and write to storage in fixed-size atomic
// batches with an explicit, resumable job state per document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nelalabs/retrievald/internal/chunker"
	"github.com/nelalabs/retrievald/internal/embeddings"
	"github.com/nelalabs/retrievald/internal/fingerprint"
	"github.com/nelalabs/retrievald/internal/store"
	"github.com/nelalabs/retrievald/internal/tenant"
)

var (
	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid ingest configuration")

	// ErrEmptyDocument indicates a request with no content
	ErrEmptyDocument = errors.New("document content cannot be empty")

	// ErrUnknownJob indicates a job id the service has no record of
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobNotResumable indicates a resume attempt on a job that is
	// still running or already completed
	ErrJobNotResumable = errors.New("job is not resumable")

	// ErrQueueFull indicates the async queue has no room for another job
	ErrQueueFull = errors.New("ingest queue is full")

	// ErrClosed indicates the service has been shut down
	ErrClosed = errors.New("ingest service is closed")
)

// Chunker splits document text. *chunker.Chunker satisfies it.
type Chunker interface {
	Split(text string) ([]chunker.Chunk, error)
}

// Embedder resolves chunk text to a vector. *embeddings.Cache satisfies it.
type Embedder interface {
	GetOrCompute(ctx context.Context, content string) ([]float32, error)
}

// Storage is the slice of the store ingestion needs.
type Storage interface {
	CommitBatch(ctx context.Context, tenantID string, chunks []store.DocumentChunk) error
	LastCommittedIndex(ctx context.Context, tenantID, documentID string) (int, error)
}

// Request describes one document to ingest.
type Request struct {
	TenantID   string
	DocumentID string
	SourceName string
	Content    string
}

// Validate validates the request.
func (r Request) Validate() error {
	if err := tenant.Validate(r.TenantID); err != nil {
		return err
	}
	if r.DocumentID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidConfig)
	}
	if r.Content == "" {
		return ErrEmptyDocument
	}
	return nil
}

// Config holds configuration for the ingest service.
type Config struct {
	// BatchSize is the number of chunks committed per storage
	// transaction. Default: 400, allowed range 300 to 500.
	BatchSize int

	// Workers is the number of goroutines serving the async queue.
	// Default: 4.
	Workers int

	// QueueSize bounds the async queue. Default: 64.
	QueueSize int

	// MaxRetries is the number of embedding attempts per chunk before the
	// job stops. Default: 3.
	MaxRetries int

	// RetryBaseDelay is the first backoff delay; each retry doubles it.
	// Default: 200ms.
	RetryBaseDelay time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 400
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BatchSize < 300 || c.BatchSize > 500 {
		return fmt.Errorf("%w: batch size %d outside [300, 500]", ErrInvalidConfig, c.BatchSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1", ErrInvalidConfig)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidConfig)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("%w: retry base delay must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service ingests documents synchronously (Run) or through a worker pool
// (Submit). Every accepted request gets a job record that survives until
// the process exits.
type Service struct {
	config   Config
	chunker  Chunker
	embedder Embedder
	storage  Storage
	logger   *zap.Logger
	metrics  *Metrics

	jobs  *registry
	queue chan queued

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type queued struct {
	jobID string
}

// NewService creates an ingest service and starts its workers.
func NewService(cfg Config, ch Chunker, emb Embedder, st Storage, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: chunker required", ErrInvalidConfig)
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: storage required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config:   cfg,
		chunker:  ch,
		embedder: emb,
		storage:  st,
		logger:   logger,
		metrics:  NewMetrics(logger),
		jobs:     newRegistry(),
		queue:    make(chan queued, cfg.QueueSize),
		cancel:   cancel,
	}

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.worker(ctx)
	}
	return s, nil
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-s.queue:
			if !ok {
				return
			}
			s.process(ctx, q.jobID)
		}
	}
}

// Submit queues a document for ingestion and returns the pending job. The
// returned snapshot goes stale immediately; poll Job for progress.
func (s *Service) Submit(req Request) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Job{}, ErrClosed
	}
	job := s.newJob(req)
	s.jobs.add(job, req)

	select {
	case s.queue <- queued{jobID: job.ID}:
		s.mu.Unlock()
		return job, nil
	default:
		s.mu.Unlock()
		s.jobs.update(job.ID, func(j *Job) {
			j.Status = StatusFailed
			j.Reason = ErrQueueFull.Error()
			j.FinishedAt = time.Now().UTC()
		})
		return Job{}, ErrQueueFull
	}
}

// Run ingests a document synchronously under the caller's context and
// returns the terminal job.
func (s *Service) Run(ctx context.Context, req Request) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}
	if err := tenant.CheckContext(ctx, req.TenantID); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Job{}, ErrClosed
	}
	job := s.newJob(req)
	s.jobs.add(job, req)
	s.mu.Unlock()

	s.process(ctx, job.ID)
	final, _, _ := s.jobs.get(job.ID)
	return final, nil
}

// Resume re-runs a failed or partial job. Chunks at or below the resume
// cursor are skipped, and replayed batches dedupe inside storage, so
// resuming is safe even after a crash between commit and cursor update.
func (s *Service) Resume(ctx context.Context, jobID string) (Job, error) {
	job, _, ok := s.jobs.get(jobID)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if err := tenant.CheckContext(ctx, job.TenantID); err != nil {
		return Job{}, err
	}
	if !job.Terminal() || job.Status == StatusCompleted {
		return Job{}, fmt.Errorf("%w: status %s", ErrJobNotResumable, job.Status)
	}

	s.jobs.update(jobID, func(j *Job) {
		j.Status = StatusPending
		j.Reason = ""
		j.FailedChunk = -1
		j.FinishedAt = time.Time{}
	})
	s.process(ctx, jobID)
	final, _, _ := s.jobs.get(jobID)
	return final, nil
}

// Job returns a snapshot of a job.
func (s *Service) Job(id string) (Job, error) {
	job, _, ok := s.jobs.get(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return job, nil
}

// Close stops the workers. Queued jobs that never ran stay pending.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) newJob(req Request) Job {
	return Job{
		ID:           uuid.NewString(),
		TenantID:     req.TenantID,
		DocumentID:   req.DocumentID,
		SourceName:   req.SourceName,
		Status:       StatusPending,
		FailedChunk:  -1,
		ResumeCursor: -1,
		CreatedAt:    time.Now().UTC(),
	}
}

// process drives one job to a terminal state.
func (s *Service) process(ctx context.Context, jobID string) {
	start := time.Now()
	_, req, ok := s.jobs.get(jobID)
	if !ok {
		return
	}
	s.jobs.update(jobID, func(j *Job) {
		j.Status = StatusProcessing
		j.StartedAt = time.Now().UTC()
	})

	final := s.runJob(ctx, jobID, req)
	s.metrics.RecordJob(ctx, string(final.Status), time.Since(start))

	log := s.logger.With(
		zap.String("job_id", final.ID),
		zap.String("tenant_id", final.TenantID),
		zap.String("document_id", final.DocumentID),
		zap.String("status", string(final.Status)),
		zap.Int("chunks_committed", final.ChunksCommitted),
		zap.Int("chunks_total", final.ChunksTotal),
	)
	if final.Status == StatusCompleted {
		log.Info("ingestion finished")
	} else {
		log.Warn("ingestion stopped", zap.String("reason", final.Reason))
	}
}

func (s *Service) runJob(ctx context.Context, jobID string, req Request) Job {
	chunks, err := s.chunker.Split(req.Content)
	if err != nil {
		return s.finish(jobID, -1, fmt.Errorf("splitting document: %w", err))
	}
	s.jobs.update(jobID, func(j *Job) {
		j.ChunksTotal = len(chunks)
	})
	if len(chunks) == 0 {
		return s.finish(jobID, -1, ErrEmptyDocument)
	}

	cursor, err := s.storage.LastCommittedIndex(ctx, req.TenantID, req.DocumentID)
	if err != nil {
		return s.finish(jobID, -1, fmt.Errorf("reading resume cursor: %w", err))
	}
	s.jobs.update(jobID, func(j *Job) {
		j.ResumeCursor = cursor
		j.ChunksCommitted = cursor + 1
	})

	batch := make([]store.DocumentChunk, 0, s.config.BatchSize)
	commit := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.storage.CommitBatch(ctx, req.TenantID, batch); err != nil {
			return fmt.Errorf("committing batch ending at chunk %d: %w",
				batch[len(batch)-1].ChunkIndex, err)
		}
		last := batch[len(batch)-1].ChunkIndex
		size := len(batch)
		s.jobs.update(jobID, func(j *Job) {
			j.ResumeCursor = last
			j.ChunksCommitted += size
		})
		s.metrics.RecordBatch(ctx, size)
		batch = batch[:0]
		return nil
	}

	for _, c := range chunks {
		if c.Index <= cursor {
			continue
		}
		if err := ctx.Err(); err != nil {
			return s.finish(jobID, -1, err)
		}

		embedding, err := s.embedWithRetry(ctx, c.Content)
		if err != nil {
			return s.finish(jobID, c.Index, fmt.Errorf("embedding chunk %d: %w", c.Index, err))
		}

		batch = append(batch, store.DocumentChunk{
			ID:          uuid.NewString(),
			TenantID:    req.TenantID,
			DocumentID:  req.DocumentID,
			ChunkIndex:  c.Index,
			Content:     c.Content,
			ContentHash: fingerprint.Hash(c.Content),
			SourceName:  req.SourceName,
			Embedding:   embedding,
		})
		if len(batch) == s.config.BatchSize {
			if err := commit(); err != nil {
				return s.finish(jobID, -1, err)
			}
		}
	}
	if err := commit(); err != nil {
		return s.finish(jobID, -1, err)
	}

	final, _ := s.jobs.update(jobID, func(j *Job) {
		j.Status = StatusCompleted
		j.FinishedAt = time.Now().UTC()
	})
	return final
}

// finish records a non-completed terminal state. Committed batches stay
// either way; the resume cursor tells Resume where to pick up. A canceled
// job that already wrote something ends partial; provider and storage
// errors end failed regardless of progress.
func (s *Service) finish(jobID string, failedChunk int, cause error) Job {
	canceled := errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	final, _ := s.jobs.update(jobID, func(j *Job) {
		if canceled && j.ChunksCommitted > 0 {
			j.Status = StatusPartial
		} else {
			j.Status = StatusFailed
		}
		j.Reason = cause.Error()
		j.FailedChunk = failedChunk
		j.FinishedAt = time.Now().UTC()
	})
	return final
}

// embedWithRetry retries transient embedding failures with exponential
// backoff. Invalid input never retries, it cannot heal.
func (s *Service) embedWithRetry(ctx context.Context, content string) ([]float32, error) {
	var lastErr error
	delay := s.config.RetryBaseDelay

	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		embedding, err := s.embedder.GetOrCompute(ctx, content)
		if err == nil {
			return embedding, nil
		}
		lastErr = err

		if errors.Is(err, embeddings.ErrEmptyInput) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if attempt == s.config.MaxRetries {
			break
		}
		s.metrics.RecordEmbedRetry(ctx)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("after %d attempts: %w", s.config.MaxRetries, lastErr)
}
