package core

import (
	"context"
	"time"

	"github.com/target/cognitriage-api/internal/domain/model"
)

// This file contains the port definitions (hexagonal architecture) between the
// service layer, the pipeline engine and the adapters. Services depend on these
// interfaces, never on concrete adapters.

// JobStore is the process-lifetime registry of triage jobs.
//
// Update applies mutate atomically with respect to concurrent readers: the mutator
// runs on a private copy, and the copy replaces the stored job only when mutate
// returns nil and the result satisfies the job invariants.
type JobStore interface {
	Create(ctx context.Context, stageNames []string) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, id string, mutate func(job *model.Job) error) (*model.Job, error)
	Stats(ctx context.Context) (model.JobStats, error)
}

// JobScheduler hands accepted jobs to background workers.
type JobScheduler interface {
	// Enqueue schedules the pipeline run for jobID without waiting for it.
	Enqueue(ctx context.Context, jobID string, req *model.TriageRequest) error
	// Cancel requests best-effort cancellation; it reports whether the job was known to the scheduler.
	Cancel(jobID string) bool
}

// LiteratureSearcher retrieves citation records from a bibliographic source.
// Implementations return an empty slice on any failure and never block past their timeout.
type LiteratureSearcher interface {
	Search(ctx context.Context, query string, maxResults int) []model.Citation
}

// CacheRepository defines the key/value cache operations used for literature lookups.
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}
