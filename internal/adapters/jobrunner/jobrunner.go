// Package jobrunner runs accepted triage jobs on a bounded pool of worker goroutines.
package jobrunner

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/domain/model"
	obserrors "github.com/target/cognitriage-api/internal/observability/errors"
	"github.com/target/cognitriage-api/internal/observability/metrics"
	"github.com/target/cognitriage-api/internal/observability/notify"
	"github.com/target/cognitriage-api/internal/observability/statsd"
	"github.com/target/cognitriage-api/internal/pipeline"
)

const (
	// JobType labels triage jobs in metrics and notifications.
	JobType = "triage"

	defaultQueueSize  = 64
	defaultJobTimeout = 2 * time.Minute
)

var (
	// ErrQueueFull is returned by Enqueue when every queue slot is taken.
	ErrQueueFull = errors.New("job queue is full")
	// ErrRunnerStopped is returned by Enqueue after the runner has shut down.
	ErrRunnerStopped = errors.New("job runner is stopped")
)

// Executor runs a single job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, jobID string, req *model.TriageRequest) (*model.Job, error)
}

// FailureNotifier receives jobs that ended FAILED.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// RunnerOptions configures the job runner.
type RunnerOptions struct {
	Executor   Executor
	Workers    int           // defaults to 1
	QueueSize  int           // defaults to 64
	JobTimeout time.Duration // per-job deadline; defaults to 2m
	Logger     *slog.Logger
	Metrics    statsd.Sink
	// FailureNotifier is optional.
	FailureNotifier FailureNotifier
}

type task struct {
	jobID    string
	req      *model.TriageRequest
	enqueued time.Time
}

// Runner implements core.JobScheduler with a buffered queue drained by Workers goroutines.
type Runner struct {
	exec     Executor
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier FailureNotifier

	queue chan task

	mu       sync.Mutex
	stopped  bool
	queued   map[string]struct{}
	canceled map[string]struct{}
	running  map[string]context.CancelCauseFunc
}

var _ core.JobScheduler = (*Runner)(nil)

// NewRunner validates options and builds a Runner. Call Run to start the workers.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		exec:     opts.Executor,
		workers:  workers,
		timeout:  timeout,
		logger:   logger.With("component", "triage_runner"),
		metrics:  opts.Metrics,
		notifier: opts.FailureNotifier,
		queue:    make(chan task, queueSize),
		queued:   make(map[string]struct{}),
		canceled: make(map[string]struct{}),
		running:  make(map[string]context.CancelCauseFunc),
	}, nil
}

// Enqueue schedules jobID without blocking.
func (r *Runner) Enqueue(ctx context.Context, jobID string, req *model.TriageRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRunnerStopped
	}

	select {
	case r.queue <- task{jobID: jobID, req: req, enqueued: time.Now()}:
		r.queued[jobID] = struct{}{}
	default:
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType: JobType, Transition: metrics.TransitionRejected, Result: metrics.ResultError, Err: ErrQueueFull,
		})
		r.logger.WarnContext(ctx, "job queue full", "job_id", jobID, "capacity", cap(r.queue))
		return ErrQueueFull
	}

	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType: JobType, Transition: metrics.TransitionQueued, Result: metrics.ResultSuccess,
	})
	metrics.EmitQueueDepth(r.metrics, len(r.queue))
	return nil
}

// Cancel requests cancellation of a queued or running job. It reports whether
// the runner knew the job.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.running[jobID]; ok {
		cancel(pipeline.ErrJobCanceled)
		return true
	}
	if _, ok := r.queued[jobID]; ok {
		r.canceled[jobID] = struct{}{}
		return true
	}
	return false
}

// Run starts the workers and blocks until ctx is canceled and in-flight jobs
// finish. Jobs still queued at shutdown are failed as canceled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers, "queue_size", cap(r.queue), "job_timeout", r.timeout)

	g, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			r.workerLoop(gctx)
			return nil
		})
	}
	err := g.Wait()

	r.drain(ctx)
	r.logger.InfoContext(ctx, "job runner stopped")
	return err
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (r *Runner) Pending() int {
	return len(r.queue)
}

func (r *Runner) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			r.process(ctx, t)
		}
	}
}

// drain stops intake and fails whatever is left in the queue.
func (r *Runner) drain(ctx context.Context) {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	for {
		select {
		case t := <-r.queue:
			r.mu.Lock()
			r.canceled[t.jobID] = struct{}{}
			r.mu.Unlock()
			r.process(ctx, t)
		default:
			return
		}
	}
}

func (r *Runner) process(parent context.Context, t task) {
	metrics.EmitQueueDepth(r.metrics, len(r.queue))

	// Jobs outlive the worker's context so shutdown lets them finish.
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	ctx, stop := context.WithTimeout(ctx, r.timeout)
	defer stop()
	defer cancel(nil)

	r.mu.Lock()
	delete(r.queued, t.jobID)
	if _, ok := r.canceled[t.jobID]; ok {
		delete(r.canceled, t.jobID)
		cancel(pipeline.ErrJobCanceled)
	} else {
		r.running[t.jobID] = cancel
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.running, t.jobID)
		r.mu.Unlock()
	}()

	logger := r.logger.With("job_id", t.jobID)
	logger.DebugContext(ctx, "job picked up", "wait", time.Since(t.enqueued))
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType: JobType, Transition: metrics.TransitionStarted, Result: metrics.ResultSuccess,
		Duration: time.Since(t.enqueued),
	})

	start := time.Now()
	job, err := r.exec.Execute(ctx, t.jobID, t.req)
	elapsed := time.Since(start)

	if job == nil {
		logger.ErrorContext(ctx, "job execution aborted", "error", err)
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType: JobType, Transition: metrics.TransitionFailed, Result: metrics.ResultError,
			Duration: elapsed, Err: err,
		})
		return
	}

	if job.Status == model.JobStatusCompleted {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType: JobType, Transition: metrics.TransitionCompleted, Result: metrics.ResultSuccess, Duration: elapsed,
		})
		return
	}

	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType: JobType, Transition: metrics.TransitionFailed, Result: metrics.ResultError,
		Duration: elapsed, Err: err,
	})
	r.notifyFailure(context.WithoutCancel(parent), job, err)
}

func (r *Runner) notifyFailure(ctx context.Context, job *model.Job, err error) {
	if r.notifier == nil {
		return
	}
	r.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:      job.ID,
		JobType:    JobType,
		Stage:      failedStage(job),
		Error:      job.ErrorMessage(),
		ErrorClass: errorClass(err),
		OccurredAt: time.Now().UTC(),
		Metadata: map[string]string{
			"component": "triage_runner",
			"progress":  strconv.Itoa(job.Progress),
		},
	})
}

func failedStage(job *model.Job) string {
	for _, st := range job.Stages {
		if st.Status == model.StageStatusFailed {
			return st.Name
		}
	}
	return ""
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrJobCanceled):
		return "canceled"
	case errors.Is(err, pipeline.ErrJobDeadline):
		return "timeout"
	default:
		return obserrors.Classify(err)
	}
}
