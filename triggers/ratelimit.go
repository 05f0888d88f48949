package triggers

import (
	"sync"
	"time"
)

// globalKey shares one bucket across all webhooks so a burst on many
// endpoints still respects the overall rate.
const globalKey = "__global__"

type bucket struct {
	tokens float64
	last   time.Time
}

// TokenBucketLimiter rate-limits by key. Each key gets its own bucket
// refilling at rate tokens per window. The clock is injectable for
// tests.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	rate    float64
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

// NewTokenBucketLimiter returns a limiter allowing rate requests per
// window per key.
func NewTokenBucketLimiter(rate int, window time.Duration, now func() time.Time) *TokenBucketLimiter {
	if now == nil {
		now = time.Now
	}
	return &TokenBucketLimiter{
		rate:    float64(rate),
		window:  window,
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for key, reporting whether the request may
// proceed.
func (l *TokenBucketLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.rate, last: now}
		l.buckets[key] = b
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(l.rate, b.tokens+elapsed*(l.rate/l.window.Seconds()))
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
