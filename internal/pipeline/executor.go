package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/observability/metrics"
	"github.com/target/cognitriage-api/internal/observability/statsd"
)

var (
	// ErrJobCanceled is the failure recorded when a job's context is canceled.
	ErrJobCanceled = errors.New("job canceled")
	// ErrJobDeadline is the failure recorded when a job runs past its deadline.
	ErrJobDeadline = errors.New("job deadline exceeded")
)

// Clock provides the current time; data.TimeProvider satisfies it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ExecutorOptions groups dependencies for Executor.
type ExecutorOptions struct {
	Store      core.JobStore
	Registry   *Registry
	Projection *Projection
	Logger     *slog.Logger
	Metrics    statsd.Sink
	Clock      Clock
}

// Executor drives one job through every registered stage, persisting each
// transition so pollers observe progress as it happens.
type Executor struct {
	store      core.JobStore
	registry   *Registry
	projection *Projection
	logger     *slog.Logger
	metrics    statsd.Sink
	clock      Clock
}

// NewExecutor validates the options and builds an Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("stage registry is required")
	}
	if err := opts.Registry.Validate(); err != nil {
		return nil, fmt.Errorf("stage registry: %w", err)
	}
	if opts.Projection == nil {
		return nil, errors.New("result projection is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}

	return &Executor{
		store:      opts.Store,
		registry:   opts.Registry,
		projection: opts.Projection,
		logger:     logger.With("component", "pipeline_executor"),
		metrics:    opts.Metrics,
		clock:      clock,
	}, nil
}

// StageNames returns the names of the stages every job runs, in order.
func (e *Executor) StageNames() []string {
	return e.registry.Names()
}

// Execute runs the pipeline for jobID. Cancellation of ctx is honored between
// stages; the job then fails with ErrJobCanceled or ErrJobDeadline and the
// remaining stages stay PENDING. The returned job is the final snapshot.
func (e *Executor) Execute(ctx context.Context, jobID string, req *model.TriageRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("triage request is required")
	}
	// Store writes must land even after ctx is canceled.
	writeCtx := context.WithoutCancel(ctx)
	logger := e.logger.With("job_id", jobID)

	if ctx.Err() != nil {
		return e.interrupt(writeCtx, ctx, jobID, "")
	}

	started := e.clock.Now()
	if _, err := e.store.Update(writeCtx, jobID, func(job *model.Job) error {
		job.Status = model.JobStatusRunning
		job.StartedAt = &started
		return nil
	}); err != nil {
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	logger.InfoContext(ctx, "job started", "stages", len(e.registry.defs))

	outputs := NewOutputs()
	defs := e.registry.Definitions()
	for i, def := range defs {
		if ctx.Err() != nil {
			return e.interrupt(writeCtx, ctx, jobID, "")
		}

		name := def.Name()
		if err := e.markStageRunning(writeCtx, jobID, name); err != nil {
			return nil, err
		}

		begin := e.clock.Now()
		out, runErr := e.runStage(ctx, def.Stage, Input{Request: req, Outputs: outputs})
		var raw json.RawMessage
		if runErr == nil {
			raw, runErr = json.Marshal(out)
		}
		elapsed := e.clock.Now().Sub(begin)

		if runErr != nil {
			metrics.EmitStage(e.metrics, metrics.StageMetric{
				Stage: name, Result: metrics.ResultError, Duration: elapsed, Err: runErr,
			})
			if ctx.Err() != nil {
				return e.interrupt(writeCtx, ctx, jobID, name)
			}
			stageErr := &StageError{Stage: name, Err: runErr}
			logger.ErrorContext(ctx, "stage failed", "stage", name, "error", runErr)
			return e.fail(writeCtx, jobID, name, stageErr)
		}

		metrics.EmitStage(e.metrics, metrics.StageMetric{
			Stage: name, Result: metrics.ResultSuccess, Duration: elapsed,
		})
		logger.DebugContext(ctx, "stage completed", "stage", name, "duration", elapsed)
		outputs.Set(name, out)

		if i == len(defs)-1 {
			return e.complete(writeCtx, jobID, name, raw, outputs, started)
		}
		if _, err := e.store.Update(writeCtx, jobID, func(job *model.Job) error {
			e.finishStage(job, name, raw)
			job.Progress = def.Checkpoint
			return nil
		}); err != nil {
			return nil, fmt.Errorf("record stage %s: %w", name, err)
		}
	}

	// Unreachable with a validated registry.
	return nil, errors.New("pipeline ended without a final stage")
}

func (e *Executor) runStage(ctx context.Context, stage Stage, in Input) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "stage panic recovered",
				"stage", stage.Name(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	return stage.Run(ctx, in)
}

func (e *Executor) markStageRunning(ctx context.Context, jobID, name string) error {
	now := e.clock.Now()
	_, err := e.store.Update(ctx, jobID, func(job *model.Job) error {
		st := job.Stages.Get(name)
		if st == nil {
			return fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		st.Status = model.StageStatusRunning
		st.StartedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("start stage %s: %w", name, err)
	}
	return nil
}

func (e *Executor) finishStage(job *model.Job, name string, raw json.RawMessage) {
	now := e.clock.Now()
	if st := job.Stages.Get(name); st != nil {
		st.Status = model.StageStatusDone
		st.Output = raw
		st.CompletedAt = &now
	}
}

// complete applies the last stage's output, the projected result, progress 100
// and COMPLETED in a single update.
func (e *Executor) complete(
	ctx context.Context,
	jobID, name string,
	raw json.RawMessage,
	outputs *Outputs,
	started time.Time,
) (*model.Job, error) {
	result, err := e.projection.Apply(outputs)
	if err != nil {
		if _, uerr := e.store.Update(ctx, jobID, func(job *model.Job) error {
			e.finishStage(job, name, raw)
			return nil
		}); uerr != nil {
			return nil, fmt.Errorf("record stage %s: %w", name, uerr)
		}
		return e.fail(ctx, jobID, "", fmt.Errorf("result: %w", err))
	}

	job, err := e.store.Update(ctx, jobID, func(job *model.Job) error {
		e.finishStage(job, name, raw)
		now := e.clock.Now()
		job.Result = result
		job.Progress = model.MaxProgress
		job.Status = model.JobStatusCompleted
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	e.logger.InfoContext(ctx, "job completed", "job_id", jobID, "duration", e.clock.Now().Sub(started))
	return job, nil
}

// fail marks the job FAILED with cause's message; stage, when set, is marked FAILED too.
func (e *Executor) fail(ctx context.Context, jobID, stage string, cause error) (*model.Job, error) {
	msg := cause.Error()
	job, err := e.store.Update(ctx, jobID, func(job *model.Job) error {
		now := e.clock.Now()
		if st := job.Stages.Get(stage); st != nil && st.Status == model.StageStatusRunning {
			st.Status = model.StageStatusFailed
			st.Error = stageMessage(cause)
			st.CompletedAt = &now
		}
		job.Status = model.JobStatusFailed
		job.Error = &msg
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, errors.Join(cause, fmt.Errorf("record failure of job %s: %w", jobID, err))
	}
	return job, cause
}

// interrupt fails the job because runCtx ended; stage is the stage that was running, if any.
func (e *Executor) interrupt(ctx, runCtx context.Context, jobID, stage string) (*model.Job, error) {
	cause := ErrJobCanceled
	if errors.Is(context.Cause(runCtx), context.DeadlineExceeded) {
		cause = ErrJobDeadline
	}
	e.logger.WarnContext(ctx, "job interrupted", "job_id", jobID, "stage", stage, "reason", cause)
	return e.fail(ctx, jobID, stage, cause)
}

func stageMessage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Err.Error()
	}
	return err.Error()
}
