package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/cognitriage-api/internal/data"
	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/observability/statsd"
)

type executorFixture struct {
	store    *data.MemoryJobStore
	executor *Executor
	recorder *statsd.Recorder
}

func newExecutorFixture(t *testing.T, defs ...Definition) *executorFixture {
	t.Helper()
	store := data.NewMemoryJobStore(data.JobStoreOptions{})
	rec := &statsd.Recorder{}
	proj, err := NewProjection("{first: a, last: c}")
	require.NoError(t, err)

	exec, err := NewExecutor(ExecutorOptions{
		Store:      store,
		Registry:   MustNewRegistry(defs...),
		Projection: proj,
		Metrics:    rec,
	})
	require.NoError(t, err)
	return &executorFixture{store: store, executor: exec, recorder: rec}
}

func (f *executorFixture) newJob(t *testing.T) *model.Job {
	t.Helper()
	job, err := f.store.Create(context.Background(), f.executor.StageNames())
	require.NoError(t, err)
	return job
}

func threeStages(b Stage) []Definition {
	return []Definition{
		{Stage: constStage("a", map[string]int{"v": 1}), Checkpoint: 30},
		{Stage: b, DependsOn: []string{"a"}, Checkpoint: 60},
		{Stage: constStage("c", map[string]int{"v": 3}), DependsOn: []string{"b"}, Checkpoint: 100},
	}
}

var testRequest = &model.TriageRequest{Files: []model.UploadedFile{{Name: "scan.nii"}}}

func TestNewExecutor_RequiresDependencies(t *testing.T) {
	_, err := NewExecutor(ExecutorOptions{})
	assert.ErrorContains(t, err, "job store is required")

	store := data.NewMemoryJobStore(data.JobStoreOptions{})
	_, err = NewExecutor(ExecutorOptions{Store: store, Registry: &Registry{}})
	assert.ErrorContains(t, err, "no stages")
}

func TestExecutor_CompletesJob(t *testing.T) {
	f := newExecutorFixture(t, threeStages(constStage("b", map[string]int{"v": 2}))...)
	job := f.newJob(t)

	final, err := f.executor.Execute(context.Background(), job.ID, testRequest)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, model.MaxProgress, final.Progress)
	assert.Nil(t, final.Error)
	assert.JSONEq(t, `{"first":{"v":1},"last":{"v":3}}`, string(final.Result))
	for _, st := range final.Stages {
		assert.Equal(t, model.StageStatusDone, st.Status, st.Name)
		assert.NotEmpty(t, st.Output)
	}
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	assert.Len(t, f.recorder.Samples("pipeline.stage.result"), 3)
}

func TestExecutor_LaterStagesSeeEarlierOutputs(t *testing.T) {
	var seen []string
	b := StageFunc{StageName: "b", Fn: func(_ context.Context, in Input) (any, error) {
		seen = in.Outputs.Names()
		v, err := Lookup[map[string]int](in.Outputs, "a")
		if err != nil {
			return nil, err
		}
		return map[string]int{"v": v["v"] + 1}, nil
	}}
	f := newExecutorFixture(t, threeStages(b)...)
	job := f.newJob(t)

	final, err := f.executor.Execute(context.Background(), job.ID, testRequest)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, seen)
	assert.JSONEq(t, `{"v":2}`, string(final.Stages.Get("b").Output))
}

func TestExecutor_StageFailure(t *testing.T) {
	b := StageFunc{StageName: "b", Fn: func(context.Context, Input) (any, error) {
		return nil, errors.New("invalid score")
	}}
	f := newExecutorFixture(t, threeStages(b)...)
	job := f.newJob(t)

	final, err := f.executor.Execute(context.Background(), job.ID, testRequest)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "b", stageErr.Stage)

	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Equal(t, "b: invalid score", final.ErrorMessage())
	assert.Nil(t, final.Result)
	assert.Equal(t, 30, final.Progress)
	assert.Equal(t, model.StageStatusDone, final.Stages.Get("a").Status)
	assert.Equal(t, model.StageStatusFailed, final.Stages.Get("b").Status)
	assert.Equal(t, "invalid score", final.Stages.Get("b").Error)
	assert.Equal(t, model.StageStatusPending, final.Stages.Get("c").Status)

	samples := f.recorder.Samples("pipeline.stage.result")
	require.Len(t, samples, 2)
	assert.Equal(t, "stage_error", samples[1].Tags["error_class"])
}

func TestExecutor_RecoversPanics(t *testing.T) {
	b := StageFunc{StageName: "b", Fn: func(context.Context, Input) (any, error) {
		panic("nil map")
	}}
	f := newExecutorFixture(t, threeStages(b)...)
	job := f.newJob(t)

	final, err := f.executor.Execute(context.Background(), job.ID, testRequest)
	assert.ErrorIs(t, err, ErrStagePanic)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage(), "b: stage panicked: nil map")
}

func TestExecutor_CancelBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := StageFunc{StageName: "b", Fn: func(context.Context, Input) (any, error) {
		cancel()
		return map[string]int{"v": 2}, nil
	}}
	f := newExecutorFixture(t, threeStages(b)...)
	job := f.newJob(t)

	final, err := f.executor.Execute(ctx, job.ID, testRequest)
	assert.ErrorIs(t, err, ErrJobCanceled)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Equal(t, "job canceled", final.ErrorMessage())
	assert.Equal(t, model.StageStatusDone, final.Stages.Get("b").Status)
	assert.Equal(t, model.StageStatusPending, final.Stages.Get("c").Status)
	assert.Equal(t, 60, final.Progress)
}

func TestExecutor_DeadlineInsideStage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	b := StageFunc{StageName: "b", Fn: func(ctx context.Context, _ Input) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := newExecutorFixture(t, threeStages(b)...)
	job := f.newJob(t)

	final, err := f.executor.Execute(ctx, job.ID, testRequest)
	assert.ErrorIs(t, err, ErrJobDeadline)
	assert.Equal(t, "job deadline exceeded", final.ErrorMessage())
	assert.Equal(t, model.StageStatusFailed, final.Stages.Get("b").Status)
	assert.Equal(t, model.StageStatusPending, final.Stages.Get("c").Status)
}

func TestExecutor_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newExecutorFixture(t, threeStages(constStage("b", 2))...)
	job := f.newJob(t)

	final, err := f.executor.Execute(ctx, job.ID, testRequest)
	assert.ErrorIs(t, err, ErrJobCanceled)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Nil(t, final.StartedAt)
	for _, st := range final.Stages {
		assert.Equal(t, model.StageStatusPending, st.Status)
	}
}

func TestExecutor_TerminalJobIsNotRerun(t *testing.T) {
	f := newExecutorFixture(t, threeStages(constStage("b", 2))...)
	job := f.newJob(t)

	_, err := f.executor.Execute(context.Background(), job.ID, testRequest)
	require.NoError(t, err)

	_, err = f.executor.Execute(context.Background(), job.ID, testRequest)
	assert.ErrorIs(t, err, model.ErrJobTerminal)
}

func TestExecutor_PollersSeeMonotonicProgress(t *testing.T) {
	release := make(chan struct{})
	b := StageFunc{StageName: "b", Fn: func(context.Context, Input) (any, error) {
		<-release
		return 2, nil
	}}
	f := newExecutorFixture(t, threeStages(b)...)
	job := f.newJob(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.executor.Execute(context.Background(), job.ID, testRequest)
	}()

	require.Eventually(t, func() bool {
		snap, err := f.store.Get(context.Background(), job.ID)
		return err == nil && snap.Stages.Get("b").Status == model.StageStatusRunning
	}, time.Second, 5*time.Millisecond)

	snap, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, snap.Status)
	assert.Equal(t, 30, snap.Progress)
	assert.Nil(t, snap.Result)

	close(release)
	wg.Wait()

	snap, err = f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, snap.Status)
}
