package literature

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/mocks"
	"github.com/target/cognitriage-api/internal/observability/statsd"
)

type stubLookuper struct {
	calls   atomic.Int32
	gate    chan struct{}
	results []model.Citation
	err     error
}

func (s *stubLookuper) Lookup(_ context.Context, _ string, _ int) ([]model.Citation, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.results, s.err
}

var sampleCitations = []model.Citation{
	{Title: "Hippocampal atrophy rates", Source: "Neurology (2019)", Link: "https://doi.org/10.1/x", Strength: "moderate", PMID: "1"},
}

func TestCachedSearcher_HitSkipsUpstream(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	rec := &statsd.Recorder{}
	next := &stubLookuper{}

	raw, err := json.Marshal(sampleCitations)
	require.NoError(t, err)
	cache.EXPECT().Get(gomock.Any(), cacheKey("q", 5)).Return(raw, nil)

	s, err := NewCachedSearcher(CachedSearcherOptions{Next: next, Cache: cache, Metrics: rec})
	require.NoError(t, err)

	got := s.Search(context.Background(), "q", 5)
	assert.Equal(t, sampleCitations, got)
	assert.Equal(t, int32(0), next.calls.Load())

	samples := rec.Samples("literature.lookup")
	require.Len(t, samples, 1)
	assert.Equal(t, "cache_hit", samples[0].Tags["result"])
}

func TestCachedSearcher_MissStoresResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	next := &stubLookuper{results: sampleCitations}

	key := cacheKey("q", 5)
	cache.EXPECT().Get(gomock.Any(), key).Return(nil, nil)
	cache.EXPECT().Set(gomock.Any(), key, gomock.Any(), 2*time.Hour).
		DoAndReturn(func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			var stored []model.Citation
			require.NoError(t, json.Unmarshal(value, &stored))
			assert.Equal(t, sampleCitations, stored)
			return nil
		})

	s, err := NewCachedSearcher(CachedSearcherOptions{Next: next, Cache: cache, TTL: 2 * time.Hour})
	require.NoError(t, err)

	got := s.Search(context.Background(), "q", 5)
	assert.Equal(t, sampleCitations, got)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedSearcher_FailuresAreNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)

	cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	failing := &stubLookuper{err: errors.New("upstream down")}
	s, err := NewCachedSearcher(CachedSearcherOptions{Next: failing, Cache: cache})
	require.NoError(t, err)
	got := s.Search(context.Background(), "q", 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	empty := &stubLookuper{results: []model.Citation{}}
	s, err = NewCachedSearcher(CachedSearcherOptions{Next: empty, Cache: cache})
	require.NoError(t, err)
	assert.Empty(t, s.Search(context.Background(), "q", 5))
}

func TestCachedSearcher_CacheErrorsFallThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	next := &stubLookuper{results: sampleCitations}

	cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))
	cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	s, err := NewCachedSearcher(CachedSearcherOptions{Next: next, Cache: cache})
	require.NoError(t, err)
	assert.Equal(t, sampleCitations, s.Search(context.Background(), "q", 5))
}

func TestCachedSearcher_CollapsesConcurrentLookups(t *testing.T) {
	next := &stubLookuper{results: sampleCitations, gate: make(chan struct{})}
	s, err := NewCachedSearcher(CachedSearcherOptions{Next: next})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]model.Citation, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.Search(context.Background(), "q", 5)
		}()
	}

	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
	for _, r := range results {
		assert.Equal(t, sampleCitations, r)
	}
}

func TestCachedSearcher_CallerCancelDoesNotFailSharedLookup(t *testing.T) {
	next := &stubLookuper{results: sampleCitations, gate: make(chan struct{})}
	s, err := NewCachedSearcher(CachedSearcherOptions{Next: next})
	require.NoError(t, err)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan []model.Citation, 1)
	go func() { leaderDone <- s.Search(leaderCtx, "q", 5) }()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	followerDone := make(chan []model.Citation, 1)
	go func() { followerDone <- s.Search(context.Background(), "q", 5) }()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	select {
	case got := <-leaderDone:
		assert.Empty(t, got, "canceled caller returns without waiting")
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(next.gate)
	select {
	case got := <-followerDone:
		assert.Equal(t, sampleCitations, got)
	case <-time.After(time.Second):
		t.Fatal("follower did not return")
	}
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedSearcher_LookupIgnoresCallerCancellation(t *testing.T) {
	var seen atomic.Value
	next := lookupFunc(func(ctx context.Context) ([]model.Citation, error) {
		seen.Store(ctx)
		return sampleCitations, nil
	})
	s, err := NewCachedSearcher(CachedSearcherOptions{Next: next})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.Equal(t, sampleCitations, s.Search(ctx, "q", 5))

	upstream, ok := seen.Load().(context.Context)
	require.True(t, ok)
	_, hasDeadline := upstream.Deadline()
	assert.False(t, hasDeadline, "upstream call is detached from the caller deadline")
}

type lookupFunc func(ctx context.Context) ([]model.Citation, error)

func (f lookupFunc) Lookup(ctx context.Context, _ string, _ int) ([]model.Citation, error) {
	return f(ctx)
}

func TestCachedSearcher_Validation(t *testing.T) {
	_, err := NewCachedSearcher(CachedSearcherOptions{})
	assert.ErrorContains(t, err, "upstream lookuper is required")
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, cacheKey("Dementia AND MRI", 5), cacheKey("  dementia and mri ", 5))
	assert.NotEqual(t, cacheKey("q", 5), cacheKey("q", 3))
}
