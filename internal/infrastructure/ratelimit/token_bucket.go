// Package ratelimit throttles the admin surface with in-process token buckets.
package ratelimit

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// TokenBucket implements the token bucket algorithm. It is safe for
// concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.PassiveClock
	capacity   float64
	tokens     float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// TokenBucketConfig holds configuration for creating a token bucket.
type TokenBucketConfig struct {
	// Capacity is the burst size.
	Capacity float64
	// Rate is the number of tokens added per second.
	Rate float64
}

// NewTokenBucket creates a full bucket. Non-positive values fall back to a
// burst of 10 refilled at one token per second.
func NewTokenBucket(cfg TokenBucketConfig, clk clock.PassiveClock) *TokenBucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TokenBucket{
		clock:      clk,
		capacity:   cfg.Capacity,
		tokens:     cfg.Capacity,
		rate:       cfg.Rate,
		lastRefill: clk.Now(),
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN consumes n tokens if available.
func (tb *TokenBucket) AllowN(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// Available returns the current number of tokens.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// must be called with mu held.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// TokenBucketPool hands out one bucket per key.
type TokenBucketPool struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	buckets map[string]*tokenBucketEntry
	config  TokenBucketConfig
}

type tokenBucketEntry struct {
	bucket   *TokenBucket
	lastUsed time.Time
}

// NewTokenBucketPool creates a pool whose buckets share cfg.
func NewTokenBucketPool(cfg TokenBucketConfig, clk clock.PassiveClock) *TokenBucketPool {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TokenBucketPool{clock: clk, buckets: make(map[string]*tokenBucketEntry), config: cfg}
}

// GetOrCreate returns the bucket for key, creating a full one if needed.
func (p *TokenBucketPool) GetOrCreate(key string) *TokenBucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	if entry, ok := p.buckets[key]; ok {
		entry.lastUsed = now
		return entry.bucket
	}
	bucket := NewTokenBucket(p.config, p.clock)
	p.buckets[key] = &tokenBucketEntry{bucket: bucket, lastUsed: now}
	return bucket
}

// Cleanup removes buckets idle for longer than maxIdle and returns how many.
func (p *TokenBucketPool) Cleanup(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	removed := 0
	for key, entry := range p.buckets {
		if now.Sub(entry.lastUsed) > maxIdle {
			delete(p.buckets, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of buckets in the pool.
func (p *TokenBucketPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}
