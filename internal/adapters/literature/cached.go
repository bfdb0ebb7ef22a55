package literature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/observability/metrics"
	"github.com/target/cognitriage-api/internal/observability/statsd"
)

const defaultCacheTTL = 24 * time.Hour

// Lookuper performs an uncached literature search that reports errors.
type Lookuper interface {
	Lookup(ctx context.Context, query string, maxResults int) ([]model.Citation, error)
}

// CachedSearcherOptions groups dependencies for CachedSearcher.
type CachedSearcherOptions struct {
	Next    Lookuper
	Cache   core.CacheRepository // optional
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// CachedSearcher answers repeated queries from the cache and collapses
// concurrent identical lookups into one upstream call. Failed and empty
// lookups are not cached.
type CachedSearcher struct {
	next    Lookuper
	cache   core.CacheRepository
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	metrics statsd.Sink
}

var _ core.LiteratureSearcher = (*CachedSearcher)(nil)

// NewCachedSearcher wraps next with caching.
func NewCachedSearcher(opts CachedSearcherOptions) (*CachedSearcher, error) {
	if opts.Next == nil {
		return nil, errors.New("upstream lookuper is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSearcher{
		next:    opts.Next,
		cache:   opts.Cache,
		ttl:     ttl,
		logger:  logger.With("component", "literature_cache"),
		metrics: opts.Metrics,
	}, nil
}

// Search implements core.LiteratureSearcher.
func (s *CachedSearcher) Search(ctx context.Context, query string, maxResults int) []model.Citation {
	key := cacheKey(query, maxResults)
	if cached, ok := s.load(ctx, key); ok {
		metrics.EmitLiteratureLookup(s.metrics, "cache", metrics.ResultCacheHit, 0)
		return cached
	}

	// The shared lookup outlives any single caller; the upstream client bounds it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		citations, err := s.next.Lookup(shared, query, maxResults)
		if err != nil {
			return nil, err
		}
		if len(citations) > 0 {
			s.store(shared, key, citations)
		}
		return citations, nil
	})

	select {
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "literature lookup abandoned", "query", query, "error", ctx.Err())
		return []model.Citation{}
	case res := <-ch:
		if res.Err != nil {
			s.logger.WarnContext(ctx, "literature lookup failed", "query", query, "shared", res.Shared, "error", res.Err)
			return []model.Citation{}
		}
		return slices.Clone(res.Val.([]model.Citation))
	}
}

func (s *CachedSearcher) load(ctx context.Context, key string) ([]model.Citation, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.DebugContext(ctx, "literature cache read failed", "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	var citations []model.Citation
	if err := json.Unmarshal(raw, &citations); err != nil {
		s.logger.DebugContext(ctx, "discarding corrupt literature cache entry", "key", key, "error", err)
		return nil, false
	}
	return citations, len(citations) > 0
}

func (s *CachedSearcher) store(ctx context.Context, key string, citations []model.Citation) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(citations)
	if err != nil {
		return
	}
	// The request may already be done; the cache write should still land.
	if err := s.cache.Set(context.WithoutCancel(ctx), key, raw, s.ttl); err != nil {
		s.logger.DebugContext(ctx, "literature cache write failed", "error", err)
	}
}

func cacheKey(query string, maxResults int) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query)) + "|" + strconv.Itoa(maxResults)))
	return "pubmed:" + hex.EncodeToString(sum[:16])
}
