package ingest

import (
	"sync"
	"time"
)

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	// StatusPending means the job is queued but no worker has picked it up.
	StatusPending Status = "pending"

	// StatusProcessing means a worker is chunking, embedding or committing.
	StatusProcessing Status = "processing"

	// StatusCompleted means every chunk of the document is committed.
	StatusCompleted Status = "completed"

	// StatusFailed means a provider or storage error stopped the job.
	// Batches committed before the error stay queryable; Resume picks up
	// from the cursor.
	StatusFailed Status = "failed"

	// StatusPartial means the caller canceled the job after some batches
	// committed. Resume picks up from the cursor.
	StatusPartial Status = "partially_completed"
)

// Job is the observable state of one document ingestion. Callers get
// snapshots; the service owns the mutable record.
type Job struct {
	ID         string
	TenantID   string
	DocumentID string
	SourceName string

	Status Status

	// Reason explains a failed or partial job in operator terms.
	Reason string

	// FailedChunk is the chunk index that stopped the job, -1 when no
	// single chunk is to blame.
	FailedChunk int

	// ResumeCursor is the highest committed chunk index, -1 before the
	// first commit.
	ResumeCursor int

	ChunksTotal     int
	ChunksCommitted int

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Terminal reports whether the job has stopped moving.
func (j Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusPartial:
		return true
	}
	return false
}

// jobRecord pairs the public job state with the request that produced it,
// so Resume can replay without the caller re-sending content.
type jobRecord struct {
	job Job
	req Request
}

// registry tracks job records in memory for the lifetime of the process.
type registry struct {
	mu      sync.RWMutex
	records map[string]*jobRecord
}

func newRegistry() *registry {
	return &registry{records: make(map[string]*jobRecord)}
}

func (r *registry) add(job Job, req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[job.ID] = &jobRecord{job: job, req: req}
}

// get returns a snapshot of the job and its request.
func (r *registry) get(id string) (Job, Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Job{}, Request{}, false
	}
	return rec.job, rec.req, true
}

// update applies fn to the stored record and returns the new snapshot.
func (r *registry) update(id string, fn func(*Job)) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Job{}, false
	}
	fn(&rec.job)
	return rec.job, true
}
