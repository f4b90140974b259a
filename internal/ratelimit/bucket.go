// Package ratelimit implements the gateway's admission controls: a lazy
// token bucket per tenant, a global in-flight request cap, and an optional
// Redis sliding-window limit for clustered deployments.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// cleanupInterval and inactivityTTL bound the bucket map: tenants idle
	// past the TTL are dropped and re-admitted with a full bucket.
	cleanupInterval = 5 * time.Minute
	inactivityTTL   = 10 * time.Minute
)

// bucket is one tenant's token bucket. Capacity equals the tenant's RPM;
// refill is capacity/60 tokens per second, applied lazily on access.
type bucket struct {
	capacity   float64
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.capacity / 60
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TokenBuckets is the per-tenant limiter. Safe for concurrent use.
type TokenBuckets struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}

	now func() time.Time // test hook
}

// NewTokenBuckets creates the limiter and starts its cleanup loop.
func NewTokenBuckets() *TokenBuckets {
	tb := &TokenBuckets{
		buckets: map[string]*bucket{},
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go tb.cleanupLoop()
	return tb
}

// Allow consumes one token from the tenant's bucket, creating it full on
// first sight. Returns whether the request is admitted and how many whole
// tokens remain.
func (tb *TokenBuckets) Allow(tenantID string, rpm int) (allowed bool, remaining int) {
	if rpm <= 0 {
		return false, 0
	}
	now := tb.now()

	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, ok := tb.buckets[tenantID]
	if !ok || b.capacity != float64(rpm) {
		b = &bucket{
			capacity:   float64(rpm),
			tokens:     float64(rpm),
			lastRefill: now,
		}
		tb.buckets[tenantID] = b
	}
	b.refill(now)
	b.lastAccess = now

	if b.tokens < 1 {
		return false, 0
	}
	b.tokens--
	return true, int(b.tokens)
}

// Close stops the cleanup loop.
func (tb *TokenBuckets) Close() {
	close(tb.done)
}

func (tb *TokenBuckets) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tb.done:
			return
		case <-ticker.C:
			cutoff := tb.now().Add(-inactivityTTL)
			tb.mu.Lock()
			for id, b := range tb.buckets {
				if b.lastAccess.Before(cutoff) {
					delete(tb.buckets, id)
				}
			}
			tb.mu.Unlock()
		}
	}
}

// InFlight caps the number of requests active at once. Safe for concurrent
// use; every successful Acquire must be paired with exactly one Release.
type InFlight struct {
	mu     sync.Mutex
	active int
	limit  int
}

// NewInFlight creates a gate admitting up to limit concurrent requests.
func NewInFlight(limit int) *InFlight {
	return &InFlight{limit: limit}
}

// Acquire admits a request if capacity remains.
func (g *InFlight) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active >= g.limit {
		return false
	}
	g.active++
	return true
}

// Release returns one slot. Callers guard against double release with a
// sync.Once per request.
func (g *InFlight) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// Active returns the current in-flight count.
func (g *InFlight) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
