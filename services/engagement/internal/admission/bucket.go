package admission

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is an in-process per-key token bucket.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter refilling rate tokens/s up to burst.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (tb *TokenBucket) WithClock(now func() time.Time) *TokenBucket {
	tb.now = now
	return tb
}

func (tb *TokenBucket) Allow(_ context.Context, key string, cost int) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.burst), last: now}
		tb.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * tb.rate
		if b.tokens > float64(tb.burst) {
			b.tokens = float64(tb.burst)
		}
		b.last = now
	}

	if b.tokens < float64(cost) {
		return false, nil
	}
	b.tokens -= float64(cost)
	return true, nil
}

// Sweep drops buckets untouched for longer than idle. A dropped bucket
// would have refilled to burst anyway once idle exceeds burst/rate.
func (tb *TokenBucket) Sweep(idle time.Duration) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	cutoff := tb.now().Add(-idle)
	n := 0
	for k, b := range tb.buckets {
		if b.last.Before(cutoff) {
			delete(tb.buckets, k)
			n++
		}
	}
	return n
}

// FullRefill is how long an empty bucket takes to refill completely.
func (tb *TokenBucket) FullRefill() time.Duration {
	return time.Duration(float64(tb.burst) / tb.rate * float64(time.Second))
}

// RunJanitor sweeps every interval until ctx is done.
func (tb *TokenBucket) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tb.Sweep(tb.FullRefill())
		}
	}
}
