// Package cache implements the tiered read-through cache manager sitting in
// front of the provider orchestrator: Fresh and Stale tiers in Redis,
// permanent hourly snapshots in Postgres, and a historical read path backed
// by the OHLC engine.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arzfeed/arzfeed/internal/domain"
	"github.com/arzfeed/arzfeed/internal/orchestrator"
)

// PointRecorder receives every successfully refreshed price point. The OHLC
// engine implements it.
type PointRecorder interface {
	RecordPoint(ctx context.Context, itemCode string, price decimal.Decimal, ts time.Time) error
}

// HistoricalReader serves day-level OHLC lookups for the historical read
// path. The OHLC engine implements it.
type HistoricalReader interface {
	Historical(ctx context.Context, itemCode string, date time.Time) (domain.OHLCRecord, error)
}

// LocalClock renders a timestamp in the serving locale's calendar, returning
// a display date and time.
type LocalClock func(t time.Time) (date, clock string)

// Options tunes a Manager.
type Options struct {
	FreshTTL time.Duration
	StaleTTL time.Duration
	// MergeStrategy is applied when more than one provider can serve a
	// category and the fetch fans out.
	MergeStrategy domain.MergeStrategy
	// ExpectedItems maps category -> expected item codes, for historical
	// completeness reporting.
	ExpectedItems map[domain.Category][]string
}

// Manager owns the CacheEntry and PermanentSnapshot lifecycle.
type Manager struct {
	tiers     domain.TierCache
	snapshots domain.SnapshotStore
	orch      *orchestrator.Orchestrator
	recorder  PointRecorder
	history   HistoricalReader
	local     LocalClock
	opts      Options
	logger    *slog.Logger

	now func() time.Time
}

// NewManager wires a Manager from its collaborators.
func NewManager(
	tiers domain.TierCache,
	snapshots domain.SnapshotStore,
	orch *orchestrator.Orchestrator,
	recorder PointRecorder,
	history HistoricalReader,
	local LocalClock,
	opts Options,
	logger *slog.Logger,
) *Manager {
	if opts.FreshTTL <= 0 {
		opts.FreshTTL = 5 * time.Minute
	}
	if opts.StaleTTL <= 0 {
		opts.StaleTTL = 7 * 24 * time.Hour
	}
	if opts.MergeStrategy == "" {
		opts.MergeStrategy = domain.MergeNewest
	}
	return &Manager{
		tiers:     tiers,
		snapshots: snapshots,
		orch:      orch,
		recorder:  recorder,
		history:   history,
		local:     local,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Read serves the category's latest prices: Fresh tier first, then a live
// fetch, then the Stale tier. Only total exhaustion surfaces as
// ErrNoDataAvailable.
func (m *Manager) Read(ctx context.Context, category domain.Category) (domain.ReadResult, error) {
	now := m.now()

	entry, err := m.tiers.Get(ctx, category, domain.TierFresh)
	if err == nil {
		return domain.ReadResult{
			Data: entry.Payload,
			Meta: domain.ReadMeta{
				IsFresh: true,
				DataAge: entry.Age(now),
				Source:  domain.SourceCache,
			},
		}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("fresh tier read failed",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
	}

	payload, fetchErr := m.refresh(ctx, category)
	if fetchErr == nil {
		return domain.ReadResult{
			Data: payload,
			Meta: domain.ReadMeta{
				IsFresh: true,
				Source:  domain.SourceAPI,
			},
		}, nil
	}

	return m.readStale(ctx, category, fetchErr)
}

// ForceRefresh fetches the category live and rewrites the cache tiers. The
// scheduler and manual admin triggers call it.
func (m *Manager) ForceRefresh(ctx context.Context, category domain.Category) error {
	if _, err := m.refresh(ctx, category); err != nil {
		return fmt.Errorf("cache: force refresh %s: %w", category, err)
	}
	return nil
}

// refresh fetches the category from the orchestrator and, on success, upserts
// both live tiers, appends the hourly snapshot, and feeds the OHLC recorder.
func (m *Manager) refresh(ctx context.Context, category domain.Category) (map[string]domain.PriceItem, error) {
	result, err := m.orch.Fetch(ctx, category, func(ctx context.Context, p domain.Provider) ([]domain.Item, error) {
		return domain.FetchByCategory(ctx, p, category, nil)
	}, m.opts.MergeStrategy)
	if err != nil {
		return nil, err
	}

	now := m.now()
	payload := m.toPayload(result.Items, now)

	m.writeTiers(ctx, category, payload, result, now)
	m.appendSnapshot(ctx, category, payload, result.Provider, now)
	m.recordPoints(ctx, result.Items)

	return payload, nil
}

// writeTiers upserts the Fresh and Stale entries. A Fresh write failure is
// non-critical and swallowed after logging; the Stale entry is what future
// fallbacks depend on, so its write is retried once.
func (m *Manager) writeTiers(ctx context.Context, category domain.Category, payload map[string]domain.PriceItem, result orchestrator.FallbackResult, now time.Time) {
	fresh := domain.CacheEntry{
		Category:   category,
		Tier:       domain.TierFresh,
		Payload:    payload,
		CapturedAt: now,
		ExpiresAt:  now.Add(m.opts.FreshTTL),
		IsFallback: result.UsedFallback,
		ErrorCount: len(result.Errors),
	}
	if len(result.Errors) > 0 {
		fresh.LastError = result.Errors[len(result.Errors)-1].Message
	}
	if err := m.tiers.Upsert(ctx, fresh, m.opts.FreshTTL); err != nil {
		m.logger.Warn("fresh tier write failed",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
	}

	stale := fresh
	stale.Tier = domain.TierStale
	stale.ExpiresAt = now.Add(m.opts.StaleTTL)
	if err := m.tiers.Upsert(ctx, stale, m.opts.StaleTTL); err != nil {
		m.logger.Warn("stale tier write failed, retrying once",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
		if err := m.tiers.Upsert(ctx, stale, m.opts.StaleTTL); err != nil {
			m.logger.Error("stale tier retry failed",
				slog.String("category", string(category)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// appendSnapshot writes the hourly permanent snapshot; a no-op when one
// already exists for this hour bucket.
func (m *Manager) appendSnapshot(ctx context.Context, category domain.Category, payload map[string]domain.PriceItem, source string, now time.Time) {
	inserted, err := m.snapshots.Append(ctx, domain.PermanentSnapshot{
		Category:   category,
		Payload:    payload,
		HourBucket: now.UTC().Truncate(time.Hour),
		Source:     source,
	})
	if err != nil {
		// Snapshot write failures never fail the refresh that triggered them.
		m.logger.Warn("snapshot append failed",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
		return
	}
	if inserted {
		m.logger.Debug("hourly snapshot appended", slog.String("category", string(category)))
	}
}

func (m *Manager) recordPoints(ctx context.Context, items []domain.Item) {
	if m.recorder == nil {
		return
	}
	for _, item := range items {
		ts := item.UpdatedAt
		if ts.IsZero() {
			ts = m.now()
		}
		if err := m.recorder.RecordPoint(ctx, item.Code, item.Price, ts); err != nil {
			m.logger.Warn("ohlc record failed",
				slog.String("item", item.Code),
				slog.String("error", err.Error()),
			)
		}
	}
}

// readStale serves the Stale tier after a failed live fetch, annotating the
// result with the data age and whether the failure looks like a credential
// problem rather than an outage.
func (m *Manager) readStale(ctx context.Context, category domain.Category, fetchErr error) (domain.ReadResult, error) {
	entry, err := m.tiers.Get(ctx, category, domain.TierStale)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Error("stale tier read failed",
				slog.String("category", string(category)),
				slog.String("error", err.Error()),
			)
		}
		return domain.ReadResult{}, fmt.Errorf("cache: read %s: %w", category, domain.ErrNoDataAvailable)
	}

	age := entry.Age(m.now())
	reason := "a temporary upstream outage"
	if domain.IsAuthFailure(fetchErr) {
		reason = "an upstream authentication failure; credentials may have expired"
	}
	warning := fmt.Sprintf("serving stale data captured %d minutes ago due to %s",
		int(age.Minutes()), reason)

	return domain.ReadResult{
		Data: entry.Payload,
		Meta: domain.ReadMeta{
			IsStale: true,
			DataAge: age,
			Source:  domain.SourceFallback,
			Warning: warning,
		},
	}, nil
}

// ReadHistorical serves the category's prices for a past UTC date from the
// durable OHLC records, reporting how complete the reconstruction is.
func (m *Manager) ReadHistorical(ctx context.Context, category domain.Category, date time.Time) (domain.ReadResult, error) {
	expected := m.opts.ExpectedItems[category]
	if len(expected) == 0 {
		return domain.ReadResult{}, fmt.Errorf("cache: historical %s: no expected items configured: %w", category, domain.ErrNoDataAvailable)
	}

	data := make(map[string]domain.PriceItem, len(expected))
	for _, code := range expected {
		rec, err := m.history.Historical(ctx, code, date)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			m.logger.Warn("historical lookup failed",
				slog.String("item", code),
				slog.String("error", err.Error()),
			)
			continue
		}

		localDate, localClock := m.local(rec.PeriodEnd)
		data[code] = domain.PriceItem{
			Value:         rec.Close,
			CapturedAtUTC: rec.PeriodEnd,
			LocalDate:     localDate,
			LocalTime:     localClock,
		}
	}

	if len(data) == 0 {
		return domain.ReadResult{}, fmt.Errorf("cache: historical %s on %s: %w",
			category, date.Format("2006-01-02"), domain.ErrNoDataAvailable)
	}

	return domain.ReadResult{
		Data: data,
		Meta: domain.ReadMeta{
			Source:       domain.SourceOHLC,
			IsHistorical: true,
			Completeness: float64(len(data)) / float64(len(expected)),
		},
	}, nil
}

// toPayload converts fetched items into the cached PriceItem map with local
// display dates rendered.
func (m *Manager) toPayload(items []domain.Item, now time.Time) map[string]domain.PriceItem {
	payload := make(map[string]domain.PriceItem, len(items))
	for _, item := range items {
		capturedAt := item.UpdatedAt
		if capturedAt.IsZero() {
			capturedAt = now
		}
		localDate, localClock := m.local(capturedAt)
		payload[item.Code] = domain.PriceItem{
			Value:         item.Price,
			Change:        item.Change,
			CapturedAtUTC: capturedAt.UTC(),
			LocalDate:     localDate,
			LocalTime:     localClock,
		}
	}
	return payload
}
