package orchestrator

import (
	"sync"
	"time"

	"github.com/arzfeed/arzfeed/internal/domain"
)

type breakerState struct {
	failures    int
	lastFailure time.Time
}

// breakerSet holds per-provider circuit-breaker state. A provider's breaker
// opens once its failure counter reaches the threshold and short-circuits all
// calls until the reset timeout has elapsed since the last failure, at which
// point it half-opens: the counter is zeroed and the provider is tried again.
// State is in-memory only; it resets on process restart by design.
type breakerSet struct {
	threshold    int
	resetTimeout time.Duration

	mu    sync.Mutex
	state map[string]*breakerState
	now   func() time.Time
}

func newBreakerSet(threshold int, resetTimeout time.Duration) *breakerSet {
	return &breakerSet{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        make(map[string]*breakerState),
		now:          time.Now,
	}
}

// allow reports whether a call to the provider may proceed. When the breaker
// is open and the reset timeout has not elapsed it returns CircuitOpenError.
func (b *breakerSet) allow(provider string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.state[provider]
	if !ok || s.failures < b.threshold {
		return nil
	}

	if b.now().Sub(s.lastFailure) >= b.resetTimeout {
		// Half-open: give the provider a clean slate and let the call
		// through.
		s.failures = 0
		return nil
	}

	return &domain.CircuitOpenError{
		Provider: provider,
		Until:    s.lastFailure.Add(b.resetTimeout),
	}
}

// onFailure increments the provider's failure counter and stamps the failure
// time.
func (b *breakerSet) onFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.state[provider]
	if !ok {
		s = &breakerState{}
		b.state[provider] = s
	}
	s.failures++
	s.lastFailure = b.now()
}

// onSuccess decrements the provider's failure counter, floored at zero.
func (b *breakerSet) onSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.state[provider]; ok && s.failures > 0 {
		s.failures--
	}
}

// failureCount returns the provider's current failure counter.
func (b *breakerSet) failureCount(provider string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.state[provider]; ok {
		return s.failures
	}
	return 0
}
