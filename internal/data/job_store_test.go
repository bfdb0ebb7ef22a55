package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/cognitriage-api/internal/domain/model"
)

var storeStages = []string{"Ingestion_QC_Agent", "Imaging_Feature_Agent"}

func newTestStore(t *testing.T) (*MemoryJobStore, *FixedTimeProvider) {
	t.Helper()
	clock := NewFixedTimeProvider(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryJobStore(JobStoreOptions{Shards: 4, TimeProvider: clock}), clock
}

func TestMemoryJobStore_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, storeStages)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, storeStages, job.Stages.Names())

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	other, err := store.Create(ctx, storeStages)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)
}

func TestMemoryJobStore_GetErrors(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrJobIDRequired)
}

func TestMemoryJobStore_DuplicateID(t *testing.T) {
	store := NewMemoryJobStore(JobStoreOptions{IDGenerator: func() string { return "fixed" }})
	_, err := store.Create(context.Background(), storeStages)
	require.NoError(t, err)

	_, err = store.Create(context.Background(), storeStages)
	assert.ErrorContains(t, err, "duplicate id")
}

func TestMemoryJobStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("applies mutation and stamps updated_at", func(t *testing.T) {
		store, clock := newTestStore(t)
		job, err := store.Create(ctx, storeStages)
		require.NoError(t, err)

		clock.AddTime(time.Second)
		updated, err := store.Update(ctx, job.ID, func(j *model.Job) error {
			j.Status = model.JobStatusRunning
			j.Stages[0].Status = model.StageStatusRunning
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRunning, updated.Status)
		assert.True(t, updated.UpdatedAt.After(job.UpdatedAt))
	})

	t.Run("mutator error leaves job untouched", func(t *testing.T) {
		store, _ := newTestStore(t)
		job, err := store.Create(ctx, storeStages)
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = store.Update(ctx, job.ID, func(j *model.Job) error {
			j.Status = model.JobStatusRunning
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, got.Status)
	})

	t.Run("invalid result is rejected", func(t *testing.T) {
		store, _ := newTestStore(t)
		job, err := store.Create(ctx, storeStages)
		require.NoError(t, err)

		_, err = store.Update(ctx, job.ID, func(j *model.Job) error {
			j.Result = json.RawMessage(`{}`)
			return nil
		})
		require.Error(t, err)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Result)
	})

	t.Run("terminal job is frozen", func(t *testing.T) {
		store, _ := newTestStore(t)
		job, err := store.Create(ctx, storeStages)
		require.NoError(t, err)

		_, err = store.Update(ctx, job.ID, func(j *model.Job) error {
			msg := "scheduler unavailable"
			j.Status = model.JobStatusFailed
			j.Error = &msg
			return nil
		})
		require.NoError(t, err)

		_, err = store.Update(ctx, job.ID, func(j *model.Job) error { return nil })
		assert.ErrorIs(t, err, model.ErrJobTerminal)
	})

	t.Run("unknown job", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.Update(ctx, "missing", func(j *model.Job) error { return nil })
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestMemoryJobStore_SnapshotsAreIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, storeStages)
	require.NoError(t, err)

	job.Stages[0].Status = model.StageStatusDone
	job.Progress = 50

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageStatusPending, got.Stages[0].Status)
	assert.Equal(t, 0, got.Progress)
}

func TestMemoryJobStore_ConcurrentReadersSeeMonotonicProgress(t *testing.T) {
	store := NewMemoryJobStore(JobStoreOptions{})
	ctx := context.Background()

	job, err := store.Create(ctx, storeStages)
	require.NoError(t, err)
	_, err = store.Update(ctx, job.ID, func(j *model.Job) error {
		j.Status = model.JobStatusRunning
		return nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan error, 8)

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, err := store.Get(ctx, job.ID)
				if err != nil {
					errs <- err
					return
				}
				if snap.Progress < last {
					errs <- fmt.Errorf("progress went backwards: %d -> %d", last, snap.Progress)
					return
				}
				last = snap.Progress
			}
		}()
	}

	for p := 1; p < model.MaxProgress; p++ {
		_, err := store.Update(ctx, job.ID, func(j *model.Job) error {
			j.Progress = p
			return nil
		})
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestMemoryJobStore_Stats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for range 3 {
		_, err := store.Create(ctx, storeStages)
		require.NoError(t, err)
	}
	job, err := store.Create(ctx, storeStages)
	require.NoError(t, err)
	_, err = store.Update(ctx, job.ID, func(j *model.Job) error {
		j.Status = model.JobStatusRunning
		return nil
	})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStats{Queued: 3, Running: 1}, stats)
}
