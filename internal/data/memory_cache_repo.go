package data

import (
	"container/list"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/target/cognitriage-api/internal/core"
)

const defaultMemoryCacheCapacity = 512

// MemoryCacheRepo implements core.CacheRepository as a bounded in-process LRU with
// per-entry TTL. It backs the literature cache when Redis is not configured.
// Methods are safe for concurrent use.
type MemoryCacheRepo struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List               // front = most recently used
	items map[string]*list.Element // key -> element
	clock TimeProvider

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type memoryCacheEntry struct {
	key    string
	value  []byte
	expiry time.Time // zero means no expiry
}

// MemoryCacheOptions configures a MemoryCacheRepo.
type MemoryCacheOptions struct {
	Capacity     int
	TimeProvider TimeProvider
}

// MemoryCacheStats are counters for observability.
type MemoryCacheStats struct {
	Hits, Misses, Evictions uint64
	Size, Capacity          int
}

var _ core.CacheRepository = (*MemoryCacheRepo)(nil)

// NewMemoryCacheRepo creates an empty cache.
func NewMemoryCacheRepo(opts MemoryCacheOptions) *MemoryCacheRepo {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = defaultMemoryCacheCapacity
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	return &MemoryCacheRepo{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
		clock: clock,
	}
}

// Get returns a copy of the value for key. A missing or expired key yields (nil, nil).
func (c *MemoryCacheRepo) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	ent := el.Value.(*memoryCacheEntry)
	if c.expired(ent) {
		c.remove(el)
		c.misses.Add(1)
		return nil, nil
	}
	c.ll.MoveToFront(el)
	c.hits.Add(1)
	return slices.Clone(ent.value), nil
}

// Set stores a copy of value. ttl <= 0 means no expiry.
func (c *MemoryCacheRepo) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	var exp time.Time
	if ttl > 0 {
		exp = c.clock.Now().Add(ttl)
	}
	value = slices.Clone(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*memoryCacheEntry)
		ent.value = value
		ent.expiry = exp
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[key] = c.ll.PushFront(&memoryCacheEntry{key: key, value: value, expiry: exp})
	for c.ll.Len() > c.cap {
		c.remove(c.ll.Back())
		c.evictions.Add(1)
	}
	return nil
}

// Delete removes key and reports whether a live entry existed.
func (c *MemoryCacheRepo) Delete(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false, nil
	}
	live := !c.expired(el.Value.(*memoryCacheEntry))
	c.remove(el)
	return live, nil
}

// Len returns the number of stored entries, including expired ones not yet reclaimed.
func (c *MemoryCacheRepo) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of counters and sizes.
func (c *MemoryCacheRepo) Stats() MemoryCacheStats {
	return MemoryCacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
		Capacity:  c.cap,
	}
}

// caller holds c.mu
func (c *MemoryCacheRepo) expired(e *memoryCacheEntry) bool {
	return !e.expiry.IsZero() && !c.clock.Now().Before(e.expiry)
}

// caller holds c.mu
func (c *MemoryCacheRepo) remove(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*memoryCacheEntry).key)
}
