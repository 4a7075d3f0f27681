// Package tracker provides a generic sliding-window error counter keyed by an
// arbitrary context string. Callers feed it failures (mapping errors, store
// errors, anything) and receive a CircuitBreakerError once a context crosses
// its threshold within the window.
package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/arzfeed/arzfeed/internal/domain"
)

type window struct {
	count   int
	firstAt time.Time
}

// Tracker counts errors per context key within a sliding time window. State
// is in-memory only and lost on restart by design.
type Tracker struct {
	windowLen time.Duration
	threshold int
	logger    *slog.Logger

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New creates a Tracker that trips once a context accumulates threshold
// errors within windowLen.
func New(windowLen time.Duration, threshold int, logger *slog.Logger) *Tracker {
	return &Tracker{
		windowLen: windowLen,
		threshold: threshold,
		logger:    logger,
		windows:   make(map[string]*window),
		now:       time.Now,
	}
}

// Track records one error for the context. It returns a CircuitBreakerError
// once the context's count within the current window reaches the threshold;
// otherwise it returns nil. A window that has fully elapsed since its first
// recorded error restarts the counter.
func (t *Tracker) Track(context string, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w, ok := t.windows[context]
	if !ok || now.Sub(w.firstAt) >= t.windowLen {
		w = &window{firstAt: now}
		t.windows[context] = w
	}
	w.count++

	t.logger.Debug("tracked error",
		slog.String("context", context),
		slog.Int("count", w.count),
		slog.String("error", err.Error()),
	)

	if w.count >= t.threshold {
		return &domain.CircuitBreakerError{
			Context:   context,
			Count:     w.count,
			Threshold: t.threshold,
		}
	}
	return nil
}

// Reset clears the context's counter. Callers invoke it on the next success
// for that context.
func (t *Tracker) Reset(context string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.windows, context)
}

// Count returns the context's current in-window error count.
func (t *Tracker) Count(context string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[context]
	if !ok || t.now().Sub(w.firstAt) >= t.windowLen {
		return 0
	}
	return w.count
}
