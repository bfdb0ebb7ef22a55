package jobrunner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/cognitriage-api/internal/data"
	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/observability/notify"
	"github.com/target/cognitriage-api/internal/observability/statsd"
	"github.com/target/cognitriage-api/internal/pipeline"
)

type notifications struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
}

func (n *notifications) NotifyJobFailure(_ context.Context, payload notify.JobFailurePayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
}

func (n *notifications) all() []notify.JobFailurePayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.JobFailurePayload(nil), n.payloads...)
}

type runnerFixture struct {
	store    *data.MemoryJobStore
	exec     *pipeline.Executor
	runner   *Runner
	recorder *statsd.Recorder
	notified *notifications
}

func okStage(name string) pipeline.Stage {
	return pipeline.StageFunc{StageName: name, Fn: func(context.Context, pipeline.Input) (any, error) {
		return map[string]string{"stage": name}, nil
	}}
}

// waitStage blocks until release is closed or ctx ends.
func waitStage(name string, release <-chan struct{}) pipeline.Stage {
	return pipeline.StageFunc{StageName: name, Fn: func(ctx context.Context, _ pipeline.Input) (any, error) {
		select {
		case <-release:
			return map[string]string{"stage": name}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func newRunnerFixture(t *testing.T, opts RunnerOptions, middle pipeline.Stage) *runnerFixture {
	t.Helper()
	store := data.NewMemoryJobStore(data.JobStoreOptions{})
	proj, err := pipeline.NewProjection("{last: last}")
	require.NoError(t, err)
	exec, err := pipeline.NewExecutor(pipeline.ExecutorOptions{
		Store: store,
		Registry: pipeline.MustNewRegistry(
			pipeline.Definition{Stage: okStage("first"), Checkpoint: 30},
			pipeline.Definition{Stage: middle, DependsOn: []string{"first"}, Checkpoint: 60},
			pipeline.Definition{Stage: okStage("last"), DependsOn: []string{middle.Name()}, Checkpoint: 100},
		),
		Projection: proj,
	})
	require.NoError(t, err)

	rec := &statsd.Recorder{}
	notified := &notifications{}
	opts.Executor = exec
	opts.Metrics = rec
	opts.FailureNotifier = notified
	runner, err := NewRunner(opts)
	require.NoError(t, err)

	return &runnerFixture{store: store, exec: exec, runner: runner, recorder: rec, notified: notified}
}

func (f *runnerFixture) submit(t *testing.T) string {
	t.Helper()
	job, err := f.store.Create(context.Background(), f.exec.StageNames())
	require.NoError(t, err)
	require.NoError(t, f.runner.Enqueue(context.Background(), job.ID, &model.TriageRequest{
		Files: []model.UploadedFile{{Name: "scan.nii"}},
	}))
	return job.ID
}

// start runs the runner until the test ends and waits for it to stop.
func (f *runnerFixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.runner.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *runnerFixture) waitTerminal(t *testing.T, id string) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.store.Get(context.Background(), id)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestNewRunner_RequiresExecutor(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	assert.ErrorContains(t, err, "executor is required")
}

func TestRunner_RunsJobsConcurrently(t *testing.T) {
	release := make(chan struct{})
	f := newRunnerFixture(t, RunnerOptions{Workers: 2}, waitStage("middle", release))
	f.start(t)

	a := f.submit(t)
	b := f.submit(t)

	// Both jobs reach the blocking stage at the same time with two workers.
	require.Eventually(t, func() bool {
		for _, id := range []string{a, b} {
			job, err := f.store.Get(context.Background(), id)
			if err != nil || job.Stages.Get("middle").Status != model.StageStatusRunning {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	close(release)

	for _, id := range []string{a, b} {
		job := f.waitTerminal(t, id)
		assert.Equal(t, model.JobStatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
	}
	assert.Empty(t, f.notified.all())

	completed := 0
	for _, s := range f.recorder.Samples("job.transition") {
		if s.Tags["transition"] == "completed" {
			completed++
		}
	}
	assert.Equal(t, 2, completed)
	assert.NotEmpty(t, f.recorder.Samples("jobs.queue_depth"))
}

func TestRunner_EnqueueRejectsWhenFull(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{QueueSize: 1}, okStage("middle"))

	f.submit(t)
	job, err := f.store.Create(context.Background(), f.exec.StageNames())
	require.NoError(t, err)
	err = f.runner.Enqueue(context.Background(), job.ID, &model.TriageRequest{})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, f.runner.Pending())

	rejected := f.recorder.Samples("job.transition")
	require.NotEmpty(t, rejected)
	assert.Equal(t, "rejected", rejected[len(rejected)-1].Tags["transition"])
}

func TestRunner_CancelQueuedJob(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{}, okStage("middle"))

	id := f.submit(t)
	assert.True(t, f.runner.Cancel(id))
	assert.False(t, f.runner.Cancel("unknown"))

	f.start(t)
	job := f.waitTerminal(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "job canceled", job.ErrorMessage())
	assert.Nil(t, job.StartedAt)
	for _, st := range job.Stages {
		assert.Equal(t, model.StageStatusPending, st.Status, st.Name)
	}
}

func TestRunner_CancelRunningJob(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newRunnerFixture(t, RunnerOptions{}, waitStage("middle", release))
	f.start(t)

	id := f.submit(t)
	require.Eventually(t, func() bool {
		job, err := f.store.Get(context.Background(), id)
		return err == nil && job.Stages.Get("middle").Status == model.StageStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.runner.Cancel(id))
	job := f.waitTerminal(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "job canceled", job.ErrorMessage())
	assert.Equal(t, model.StageStatusDone, job.Stages.Get("first").Status)
	assert.Equal(t, model.StageStatusPending, job.Stages.Get("last").Status)

	require.Eventually(t, func() bool { return len(f.notified.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "canceled", f.notified.all()[0].ErrorClass)
}

func TestRunner_JobTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newRunnerFixture(t, RunnerOptions{JobTimeout: 30 * time.Millisecond}, waitStage("middle", release))
	f.start(t)

	id := f.submit(t)
	job := f.waitTerminal(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "job deadline exceeded", job.ErrorMessage())

	require.Eventually(t, func() bool { return len(f.notified.all()) == 1 }, time.Second, 5*time.Millisecond)
	payload := f.notified.all()[0]
	assert.Equal(t, id, payload.JobID)
	assert.Equal(t, "timeout", payload.ErrorClass)
	assert.Equal(t, "middle", payload.Stage)
}

func TestRunner_StageFailureNotifies(t *testing.T) {
	failing := pipeline.StageFunc{StageName: "middle", Fn: func(context.Context, pipeline.Input) (any, error) {
		return nil, assert.AnError
	}}
	f := newRunnerFixture(t, RunnerOptions{}, failing)
	f.start(t)

	id := f.submit(t)
	job := f.waitTerminal(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)

	require.Eventually(t, func() bool { return len(f.notified.all()) == 1 }, time.Second, 5*time.Millisecond)
	payload := f.notified.all()[0]
	assert.Equal(t, "middle", payload.Stage)
	assert.Equal(t, "stage_error", payload.ErrorClass)
	assert.Equal(t, JobType, payload.JobType)
	assert.Contains(t, payload.Error, "middle: ")
	assert.Equal(t, "30", payload.Metadata["progress"])
}

func TestRunner_StopRejectsNewWork(t *testing.T) {
	f := newRunnerFixture(t, RunnerOptions{}, okStage("middle"))
	ids := []string{f.submit(t), f.submit(t)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.runner.Run(ctx))

	for _, id := range ids {
		job, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, job.Status.Terminal(), "job %s left in %s", id, job.Status)
	}
	assert.Equal(t, 0, f.runner.Pending())

	job, err := f.store.Create(context.Background(), f.exec.StageNames())
	require.NoError(t, err)
	assert.ErrorIs(t, f.runner.Enqueue(context.Background(), job.ID, &model.TriageRequest{}), ErrRunnerStopped)
}
