// Package orchestrator coordinates the registered upstream providers:
// priority-ordered fallback, per-provider circuit breaking, and parallel
// fan-out with configurable merge strategies.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// FetchFn issues the actual category fetch against one provider. The
// orchestrator supplies the provider; callers close over endpoint params.
type FetchFn func(ctx context.Context, p domain.Provider) ([]domain.Item, error)

// FallbackResult is the outcome of a fallback fetch.
type FallbackResult struct {
	Items        []domain.Item
	Provider     string
	UsedFallback bool
	Attempts     int
	Errors       []domain.AttemptError
}

// Options tunes an Orchestrator.
type Options struct {
	MaxFallbackAttempts int
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	ParallelTimeout     time.Duration
}

type registration struct {
	provider domain.Provider
	reg      domain.ProviderRegistration
}

// Orchestrator owns the provider registry and per-provider circuit-breaker
// state. Registrations are rebuilt at startup and never persisted.
type Orchestrator struct {
	opts     Options
	breakers *breakerSet
	logger   *slog.Logger

	mu        sync.RWMutex
	providers map[string]*registration
}

// New creates an Orchestrator with no registered providers.
func New(opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxFallbackAttempts <= 0 {
		opts.MaxFallbackAttempts = 3
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerResetTimeout <= 0 {
		opts.BreakerResetTimeout = time.Minute
	}
	if opts.ParallelTimeout <= 0 {
		opts.ParallelTimeout = 15 * time.Second
	}
	return &Orchestrator{
		opts:      opts,
		breakers:  newBreakerSet(opts.BreakerThreshold, opts.BreakerResetTimeout),
		logger:    logger,
		providers: make(map[string]*registration),
	}
}

// Register adds a provider under the given registration. Registering the same
// name again replaces the previous entry.
func (o *Orchestrator) Register(p domain.Provider, reg domain.ProviderRegistration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	reg.Name = p.Name()
	o.providers[p.Name()] = &registration{provider: p, reg: reg}
}

// SetEnabled flips a provider's enabled flag at runtime.
func (o *Orchestrator) SetEnabled(name string, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.providers[name]
	if !ok {
		return fmt.Errorf("orchestrator: set enabled %s: %w", name, domain.ErrNotFound)
	}
	r.reg.Enabled = enabled
	return nil
}

// SetPriority changes a provider's priority at runtime (lower = tried first).
func (o *Orchestrator) SetPriority(name string, priority int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.providers[name]
	if !ok {
		return fmt.Errorf("orchestrator: set priority %s: %w", name, domain.ErrNotFound)
	}
	r.reg.Priority = priority
	return nil
}

// Registrations returns a snapshot of the current registrations, priority
// ascending.
func (o *Orchestrator) Registrations() []domain.ProviderRegistration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.ProviderRegistration, 0, len(o.providers))
	for _, r := range o.providers {
		out = append(out, r.reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// candidates returns enabled providers capable of serving the category,
// priority ascending.
func (o *Orchestrator) candidates(category domain.Category) []*registration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*registration
	for _, r := range o.providers {
		if r.reg.Enabled && r.reg.CanServe(category) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].reg.Priority < out[j].reg.Priority })
	return out
}

// FetchWithFallback tries the primary provider first and walks down the
// priority order on failure, up to the configured attempt cap. Circuit-open
// providers are skipped without a call but still count as attempts in the
// error report.
func (o *Orchestrator) FetchWithFallback(ctx context.Context, category domain.Category, fn FetchFn) (FallbackResult, error) {
	cands := o.candidates(category)
	if len(cands) == 0 {
		return FallbackResult{}, &domain.FallbackExhaustedError{
			Category: category,
			Attempts: []domain.AttemptError{{Provider: "-", Message: "no enabled provider with capability"}},
		}
	}

	result := FallbackResult{}
	for i, cand := range cands {
		if i >= o.opts.MaxFallbackAttempts {
			break
		}
		name := cand.reg.Name

		if err := o.breakers.allow(name); err != nil {
			result.Errors = append(result.Errors, domain.AttemptError{Provider: name, Message: err.Error()})
			continue
		}

		result.Attempts++
		items, err := fn(ctx, cand.provider)
		if err != nil {
			o.breakers.onFailure(name)
			result.Errors = append(result.Errors, domain.AttemptError{Provider: name, Message: err.Error()})
			o.logger.Warn("provider fetch failed, falling back",
				slog.String("provider", name),
				slog.String("category", string(category)),
				slog.String("error", err.Error()),
			)
			continue
		}

		o.breakers.onSuccess(name)
		result.Items = items
		result.Provider = name
		result.UsedFallback = i > 0
		return result, nil
	}

	return FallbackResult{}, &domain.FallbackExhaustedError{Category: category, Attempts: result.Errors}
}

// FetchParallel fans out to every enabled capable provider concurrently, each
// call bounded by the shared parallel timeout, and merges the successful
// results per the strategy. Failed providers are skipped; if every provider
// fails an aggregate error is returned.
func (o *Orchestrator) FetchParallel(ctx context.Context, category domain.Category, fn FetchFn, strategy domain.MergeStrategy) ([]domain.Item, error) {
	cands := o.candidates(category)
	if len(cands) == 0 {
		return nil, &domain.FallbackExhaustedError{
			Category: category,
			Attempts: []domain.AttemptError{{Provider: "-", Message: "no enabled provider with capability"}},
		}
	}

	// Circuit-open skips are collected before the fan-out starts and merged
	// after Wait, so this goroutine never shares the error slice with the
	// workers.
	var skipped []domain.AttemptError

	var (
		mu      sync.Mutex
		results []providerResult
		errs    []domain.AttemptError
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cand := range cands {
		cand := cand
		name := cand.reg.Name

		if err := o.breakers.allow(name); err != nil {
			skipped = append(skipped, domain.AttemptError{Provider: name, Message: err.Error()})
			continue
		}

		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, o.opts.ParallelTimeout)
			defer cancel()

			items, err := fn(callCtx, cand.provider)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.breakers.onFailure(name)
				errs = append(errs, domain.AttemptError{Provider: name, Message: err.Error()})
				// Individual failures never abort the fan-out.
				return nil
			}
			o.breakers.onSuccess(name)
			results = append(results, providerResult{
				provider: name,
				priority: cand.reg.Priority,
				items:    items,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("orchestrator: parallel fetch %s: %w", category, err)
	}

	if len(results) == 0 {
		return nil, &domain.FallbackExhaustedError{Category: category, Attempts: append(skipped, errs...)}
	}
	return merge(results, strategy), nil
}

// Fetch serves one category fetch under the configured merge strategy: with
// more than one enabled capable provider the parallel fan-out/merge path is
// used, otherwise the priority fallback walk.
func (o *Orchestrator) Fetch(ctx context.Context, category domain.Category, fn FetchFn, strategy domain.MergeStrategy) (FallbackResult, error) {
	if len(o.candidates(category)) < 2 {
		return o.FetchWithFallback(ctx, category, fn)
	}

	items, err := o.FetchParallel(ctx, category, fn, strategy)
	if err != nil {
		return FallbackResult{}, err
	}
	return FallbackResult{
		Items:    items,
		Provider: "merged:" + string(strategy),
	}, nil
}
