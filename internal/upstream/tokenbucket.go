// Package upstream implements the rate-limited fetch client shared by every
// vendor adapter: a process-wide token bucket, in-flight request coalescing,
// and retry with exponential backoff.
package upstream

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is an in-process token bucket limiter. The bucket is refilled
// proportionally to elapsed time since the last refill, capped at capacity;
// callers wait on a timer (honouring ctx) until a whole token is available.
type TokenBucket struct {
	rate     float64 // tokens per second
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewTokenBucket creates a bucket that grants one token per interval, holding
// at most capacity tokens. The bucket starts full.
func NewTokenBucket(interval time.Duration, capacity int) *TokenBucket {
	if interval <= 0 {
		interval = time.Second
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		rate:     float64(time.Second) / float64(interval),
		capacity: float64(capacity),
		tokens:   float64(capacity),
		last:     time.Now(),
		now:      time.Now,
	}
}

// Wait blocks until one token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := tb.now()
		elapsed := now.Sub(tb.last).Seconds()
		if elapsed > 0 {
			tb.tokens += elapsed * tb.rate
			if tb.tokens > tb.capacity {
				tb.tokens = tb.capacity
			}
			tb.last = now
		}
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - tb.tokens
		tb.mu.Unlock()

		wait := time.Duration(deficit / tb.rate * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
