// Package cache provides the TTL cache with single-flight loading that backs
// both the token cache and the target resolver.
package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// Outcome describes how a GetOrLoad call was answered.
type Outcome string

const (
	// OutcomeHit means a fresh entry was served without loading.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means this call ran the loader.
	OutcomeMiss Outcome = "miss"
	// OutcomeJoin means this call awaited a load started by another caller.
	OutcomeJoin Outcome = "join"
)

// Entry wraps a cached value with the time it was fetched. TTL is not stored
// per entry; freshness is decided by the cache's FreshnessFunc.
type Entry[V any] struct {
	Value       V
	FetchedAtMs int64
}

// FreshnessFunc decides whether entry may still be served at now.
type FreshnessFunc[V any] func(entry Entry[V], now time.Time) bool

// LoadFunc produces a value on a cache miss.
type LoadFunc[V any] func(ctx context.Context) (V, error)

// MaxAge returns a FreshnessFunc that serves entries younger than ttl.
func MaxAge[V any](ttl time.Duration) FreshnessFunc[V] {
	return func(entry Entry[V], now time.Time) bool {
		return now.UnixMilli()-entry.FetchedAtMs < ttl.Milliseconds()
	}
}

// TTLCache is a concurrency-safe map of Entry values with lazy expiry and
// single-flight loading. Failures are never cached.
type TTLCache[V any] struct {
	store *gocache.Cache
	clock clock.PassiveClock
	fresh FreshnessFunc[V]

	mu         sync.Mutex
	group      *singleflight.Group
	generation uint64
}

// New creates a TTLCache. Expiry is lazy: stale entries stay in the store until
// the next load for their key overwrites them.
func New[V any](clk clock.PassiveClock, fresh FreshnessFunc[V]) *TTLCache[V] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TTLCache[V]{
		store: gocache.New(gocache.NoExpiration, 0),
		clock: clk,
		fresh: fresh,
		group: &singleflight.Group{},
	}
}

// Get returns the entry for key if it is present and fresh.
func (c *TTLCache[V]) Get(key string) (Entry[V], bool) {
	raw, ok := c.store.Get(key)
	if !ok {
		return Entry[V]{}, false
	}
	entry := raw.(Entry[V])
	if !c.fresh(entry, c.clock.Now()) {
		return Entry[V]{}, false
	}
	return entry, true
}

// Set stores value under key, stamped with the current time.
func (c *TTLCache[V]) Set(key string, value V) {
	c.store.Set(key, Entry[V]{Value: value, FetchedAtMs: c.clock.Now().UnixMilli()}, gocache.NoExpiration)
}

// Delete removes key. Deleting an absent key is a no-op.
func (c *TTLCache[V]) Delete(key string) {
	c.store.Delete(key)
}

// Clear drops every entry and forgets in-flight loads. Loads already running
// still settle for their waiters but their results are not stored.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Flush()
	c.group = &singleflight.Group{}
	c.generation++
}

// Len returns the number of stored entries, fresh or not.
func (c *TTLCache[V]) Len() int {
	return c.store.ItemCount()
}

// GetOrLoad serves a fresh entry or coalesces concurrent callers for key into
// one call of load. Every waiter observes the same value or the same error.
//
// load runs under a context detached from the caller's cancellation so that one
// impatient caller cannot fail the shared load for everyone; a caller whose ctx
// ends stops waiting and gets ctx.Err().
func (c *TTLCache[V]) GetOrLoad(ctx context.Context, key string, load LoadFunc[V]) (V, Outcome, error) {
	var zero V
	if entry, ok := c.Get(key); ok {
		return entry.Value, OutcomeHit, nil
	}

	c.mu.Lock()
	group, gen := c.group, c.generation
	c.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ran := false
	ch := group.DoChan(key, func() (interface{}, error) {
		ran = true
		// A flight that settled between our Get and DoChan may already have stored a fresh value.
		if entry, ok := c.Get(key); ok {
			return entry.Value, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.Set(key, v)
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, OutcomeJoin, ctx.Err()
	case res := <-ch:
		outcome := OutcomeJoin
		if ran {
			outcome = OutcomeMiss
		}
		if res.Err != nil {
			return zero, outcome, res.Err
		}
		v, _ := res.Val.(V)
		return v, outcome, nil
	}
}
