package data

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/target/cognitriage-api/internal/domain/model"
)

const defaultShardCount = 32

// JobStoreOptions configures a MemoryJobStore.
type JobStoreOptions struct {
	Shards       int
	Logger       *slog.Logger
	TimeProvider TimeProvider
	// IDGenerator overrides uuid.NewString; used by tests.
	IDGenerator func() string
}

type jobShard struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// MemoryJobStore keeps jobs for the process lifetime in hash-partitioned shards.
// Readers always receive deep copies.
type MemoryJobStore struct {
	shards []*jobShard
	clock  TimeProvider
	newID  func() string
	logger *slog.Logger
}

// NewMemoryJobStore creates an empty job store.
func NewMemoryJobStore(opts JobStoreOptions) *MemoryJobStore {
	n := opts.Shards
	if n <= 0 {
		n = defaultShardCount
	}
	shards := make([]*jobShard, n)
	for i := range shards {
		shards[i] = &jobShard{jobs: make(map[string]*model.Job)}
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	newID := opts.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryJobStore{
		shards: shards,
		clock:  clock,
		newID:  newID,
		logger: logger.With("component", "job_store"),
	}
}

func (s *MemoryJobStore) shardFor(id string) *jobShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Create registers a new QUEUED job with every stage PENDING.
func (s *MemoryJobStore) Create(ctx context.Context, stageNames []string) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := s.newID()
	job := model.NewJob(id, stageNames, s.clock.Now())
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	shard := s.shardFor(id)
	shard.mu.Lock()
	if _, exists := shard.jobs[id]; exists {
		shard.mu.Unlock()
		return nil, fmt.Errorf("create job: duplicate id %s", id)
	}
	shard.jobs[id] = job
	shard.mu.Unlock()

	s.logger.DebugContext(ctx, "job created", "job_id", id, "stages", len(stageNames))
	return job.Clone(), nil
}

// Get returns a snapshot of the job.
func (s *MemoryJobStore) Get(_ context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrJobIDRequired
	}

	shard := s.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	job, ok := shard.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update runs mutate on a copy of the job and stores the copy when the result is
// a valid successor of the current state. Readers observe either the old or the new
// job, never a partially applied mutation.
func (s *MemoryJobStore) Update(
	_ context.Context,
	id string,
	mutate func(job *model.Job) error,
) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrJobIDRequired
	}

	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, ok := shard.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if current.Status.Terminal() {
		return nil, model.ErrJobTerminal
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.clock.Now()

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := model.ValidateTransition(current, next); err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}

	shard.jobs[id] = next
	return next.Clone(), nil
}

// Stats counts stored jobs per status.
func (s *MemoryJobStore) Stats(_ context.Context) (model.JobStats, error) {
	var stats model.JobStats
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, job := range shard.jobs {
			stats.Add(job.Status)
		}
		shard.mu.RUnlock()
	}
	return stats, nil
}
