package upstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coalescer merges concurrent identical requests into a single underlying
// call. A settled successful result keeps serving identical keys for a fixed
// TTL; failures are evicted immediately so the next caller retries.
type Coalescer struct {
	ttl   time.Duration
	group singleflight.Group

	mu      sync.Mutex
	settled map[string]settledResult
}

type settledResult struct {
	value     []byte
	expiresAt time.Time
}

// NewCoalescer creates a Coalescer whose settled results live for ttl.
func NewCoalescer(ttl time.Duration) *Coalescer {
	return &Coalescer{
		ttl:     ttl,
		settled: make(map[string]settledResult),
	}
}

// Do returns the result for key, issuing fn at most once across all
// concurrent callers while a call is in flight or a settled result is still
// within its TTL.
func (c *Coalescer) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	if res, ok := c.settled[key]; ok {
		if time.Now().Before(res.expiresAt) {
			c.mu.Unlock()
			return res.value, nil
		}
		delete(c.settled, key)
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.settled[key] = settledResult{value: value, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		time.AfterFunc(c.ttl, func() { c.evict(key) })
		return value, nil
	})
	if err != nil {
		// Drop the flight record so the next caller retries instead of
		// receiving the shared failure.
		c.group.Forget(key)
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Coalescer) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.settled[key]; ok && !time.Now().Before(res.expiresAt) {
		delete(c.settled, key)
	}
	c.group.Forget(key)
}
