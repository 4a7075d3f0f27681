package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzfeed/arzfeed/internal/domain"
	"github.com/arzfeed/arzfeed/internal/orchestrator"
)

// memTierCache is an in-memory TierCache keyed by (category, tier).
type memTierCache struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
}

func newMemTierCache() *memTierCache {
	return &memTierCache{entries: make(map[string]domain.CacheEntry)}
}

func tierKey(c domain.Category, t domain.Tier) string { return string(c) + "/" + string(t) }

func (m *memTierCache) Get(_ context.Context, category domain.Category, tier domain.Tier) (domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[tierKey(category, tier)]
	if !ok {
		return domain.CacheEntry{}, domain.ErrNotFound
	}
	return entry, nil
}

func (m *memTierCache) Upsert(_ context.Context, entry domain.CacheEntry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tierKey(entry.Category, entry.Tier)] = entry
	return nil
}

// memSnapshotStore is an in-memory SnapshotStore with skip-if-exists writes.
type memSnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]domain.PermanentSnapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{snaps: make(map[string]domain.PermanentSnapshot)}
}

func snapKey(c domain.Category, hour time.Time) string {
	return string(c) + "/" + hour.UTC().Format(time.RFC3339)
}

func (m *memSnapshotStore) Append(_ context.Context, snap domain.PermanentSnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapKey(snap.Category, snap.HourBucket)
	if _, ok := m.snaps[key]; ok {
		return false, nil
	}
	m.snaps[key] = snap
	return true, nil
}

func (m *memSnapshotStore) Get(_ context.Context, category domain.Category, hourBucket time.Time) (domain.PermanentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[snapKey(category, hourBucket)]
	if !ok {
		return domain.PermanentSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// fakeProvider satisfies domain.Provider with a programmable fetch outcome.
type fakeProvider struct {
	name  string
	items []domain.Item
	err   error
	calls int
}

func (f *fakeProvider) fetch() ([]domain.Item, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) FetchCurrencies(context.Context, domain.Params) ([]domain.Item, error) {
	return f.fetch()
}
func (f *fakeProvider) FetchCrypto(context.Context, domain.Params) ([]domain.Item, error) {
	return f.fetch()
}
func (f *fakeProvider) FetchGold(context.Context, domain.Params) ([]domain.Item, error) {
	return f.fetch()
}
func (f *fakeProvider) FetchCoins(context.Context, domain.Params) ([]domain.Item, error) {
	return f.fetch()
}
func (f *fakeProvider) FetchAll(context.Context, domain.Params) (domain.Bundle, error) {
	return domain.Bundle{}, nil
}
func (f *fakeProvider) Metadata() domain.ProviderMetadata {
	return domain.ProviderMetadata{Name: f.name}
}
func (f *fakeProvider) ValidateAPIKey(context.Context) (bool, error) { return true, nil }
func (f *fakeProvider) RateLimitStatus(context.Context) (domain.RateLimitStatus, error) {
	return domain.RateLimitStatus{}, nil
}

// recorderSpy captures recorded points.
type recorderSpy struct {
	mu     sync.Mutex
	points []string
}

func (r *recorderSpy) RecordPoint(_ context.Context, itemCode string, _ decimal.Decimal, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, itemCode)
	return nil
}

// historyStub serves canned day records per item code.
type historyStub struct {
	recs map[string]domain.OHLCRecord
}

func (h *historyStub) Historical(_ context.Context, itemCode string, _ time.Time) (domain.OHLCRecord, error) {
	rec, ok := h.recs[itemCode]
	if !ok {
		return domain.OHLCRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClock(time.Time) (string, string) { return "1405/06/08", "12:00:00" }

type managerFixture struct {
	tiers     *memTierCache
	snapshots *memSnapshotStore
	provider  *fakeProvider
	recorder  *recorderSpy
	manager   *Manager
}

func newFixture(t *testing.T, history HistoricalReader, opts Options) *managerFixture {
	t.Helper()

	provider := &fakeProvider{name: "vendor"}
	orch := orchestrator.New(orchestrator.Options{}, discardLogger())
	orch.Register(provider, domain.ProviderRegistration{
		Priority: 1,
		Capabilities: map[domain.Category]bool{
			domain.CategoryCurrency: true,
		},
		Enabled: true,
	})

	fx := &managerFixture{
		tiers:     newMemTierCache(),
		snapshots: newMemSnapshotStore(),
		provider:  provider,
		recorder:  &recorderSpy{},
	}
	fx.manager = NewManager(fx.tiers, fx.snapshots, orch, fx.recorder, history, testClock, opts, discardLogger())
	return fx
}

func TestReadServesFreshTier(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fx.manager.now = func() time.Time { return now }

	payload := map[string]domain.PriceItem{"usd": {Value: decimal.NewFromInt(100)}}
	require.NoError(t, fx.tiers.Upsert(context.Background(), domain.CacheEntry{
		Category:   domain.CategoryCurrency,
		Tier:       domain.TierFresh,
		Payload:    payload,
		CapturedAt: now.Add(-2 * time.Minute),
	}, time.Minute))

	result, err := fx.manager.Read(context.Background(), domain.CategoryCurrency)
	require.NoError(t, err)
	assert.True(t, result.Meta.IsFresh)
	assert.Equal(t, domain.SourceCache, result.Meta.Source)
	assert.Equal(t, 2*time.Minute, result.Meta.DataAge)
	assert.Equal(t, payload, result.Data)
	assert.Zero(t, fx.provider.calls, "fresh hit must not call upstream")
}

func TestReadMissFetchesAndPopulatesTiers(t *testing.T) {
	fx := newFixture(t, nil, Options{FreshTTL: 5 * time.Minute, StaleTTL: time.Hour})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fx.manager.now = func() time.Time { return now }

	fx.provider.items = []domain.Item{
		{Code: "usd", Price: decimal.NewFromInt(100), UpdatedAt: now},
		{Code: "eur", Price: decimal.NewFromInt(200), UpdatedAt: now},
	}

	result, err := fx.manager.Read(context.Background(), domain.CategoryCurrency)
	require.NoError(t, err)
	assert.True(t, result.Meta.IsFresh)
	assert.Equal(t, domain.SourceAPI, result.Meta.Source)
	require.Contains(t, result.Data, "usd")
	assert.Equal(t, "1405/06/08", result.Data["usd"].LocalDate)

	fresh, err := fx.tiers.Get(context.Background(), domain.CategoryCurrency, domain.TierFresh)
	require.NoError(t, err)
	assert.Len(t, fresh.Payload, 2)

	stale, err := fx.tiers.Get(context.Background(), domain.CategoryCurrency, domain.TierStale)
	require.NoError(t, err)
	assert.Len(t, stale.Payload, 2)

	_, err = fx.snapshots.Get(context.Background(), domain.CategoryCurrency, now.Truncate(time.Hour))
	require.NoError(t, err, "hourly snapshot appended")

	assert.ElementsMatch(t, []string{"usd", "eur"}, fx.recorder.points)
}

func TestReadFallsBackToStaleOnOutage(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fx.manager.now = func() time.Time { return now }

	fx.provider.err = &domain.UpstreamError{Endpoint: "/latest", StatusCode: 503, Retryable: true}

	payload := map[string]domain.PriceItem{"usd": {Value: decimal.NewFromInt(100)}}
	require.NoError(t, fx.tiers.Upsert(context.Background(), domain.CacheEntry{
		Category:   domain.CategoryCurrency,
		Tier:       domain.TierStale,
		Payload:    payload,
		CapturedAt: now.Add(-2 * time.Hour),
	}, time.Hour))

	result, err := fx.manager.Read(context.Background(), domain.CategoryCurrency)
	require.NoError(t, err)
	assert.True(t, result.Meta.IsStale)
	assert.False(t, result.Meta.IsFresh)
	assert.Equal(t, domain.SourceFallback, result.Meta.Source)
	assert.Equal(t, 2*time.Hour, result.Meta.DataAge)
	assert.Contains(t, result.Meta.Warning, "120 minutes")
	assert.Contains(t, result.Meta.Warning, "outage")
}

func TestReadStaleWarningFlagsAuthFailure(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fx.manager.now = func() time.Time { return now }

	fx.provider.err = &domain.AuthError{Endpoint: "/latest", StatusCode: 401}

	require.NoError(t, fx.tiers.Upsert(context.Background(), domain.CacheEntry{
		Category:   domain.CategoryCurrency,
		Tier:       domain.TierStale,
		Payload:    map[string]domain.PriceItem{"usd": {Value: decimal.NewFromInt(100)}},
		CapturedAt: now.Add(-30 * time.Minute),
	}, time.Hour))

	result, err := fx.manager.Read(context.Background(), domain.CategoryCurrency)
	require.NoError(t, err)
	assert.Contains(t, result.Meta.Warning, "authentication")
}

func TestReadMergesAcrossProvidersPerStrategy(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	primary := &fakeProvider{name: "primary", items: []domain.Item{
		{Code: "usd", Price: decimal.NewFromInt(100), UpdatedAt: now},
	}}
	secondary := &fakeProvider{name: "secondary", items: []domain.Item{
		{Code: "usd", Price: decimal.NewFromInt(110), UpdatedAt: now},
	}}

	orch := orchestrator.New(orchestrator.Options{}, discardLogger())
	caps := map[domain.Category]bool{domain.CategoryCurrency: true}
	orch.Register(primary, domain.ProviderRegistration{Priority: 1, Capabilities: caps, Enabled: true})
	orch.Register(secondary, domain.ProviderRegistration{Priority: 2, Capabilities: caps, Enabled: true})

	tiers := newMemTierCache()
	m := NewManager(tiers, newMemSnapshotStore(), orch, nil, nil, testClock,
		Options{MergeStrategy: domain.MergeAverage}, discardLogger())
	m.now = func() time.Time { return now }

	result, err := m.Read(context.Background(), domain.CategoryCurrency)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls, "both providers contribute to the merge")
	require.Contains(t, result.Data, "usd")
	assert.True(t, result.Data["usd"].Value.Equal(decimal.NewFromInt(105)),
		"average of 100 and 110, got %s", result.Data["usd"].Value)

	fresh, err := tiers.Get(context.Background(), domain.CategoryCurrency, domain.TierFresh)
	require.NoError(t, err)
	assert.True(t, fresh.Payload["usd"].Value.Equal(decimal.NewFromInt(105)))
}

func TestReadTotalExhaustion(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	fx.provider.err = errors.New("down")

	_, err := fx.manager.Read(context.Background(), domain.CategoryCurrency)
	assert.ErrorIs(t, err, domain.ErrNoDataAvailable)
}

func TestForceRefreshOverwritesFreshTier(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fx.manager.now = func() time.Time { return now }

	fx.provider.items = []domain.Item{{Code: "usd", Price: decimal.NewFromInt(100), UpdatedAt: now}}
	require.NoError(t, fx.manager.ForceRefresh(context.Background(), domain.CategoryCurrency))

	fresh, err := fx.tiers.Get(context.Background(), domain.CategoryCurrency, domain.TierFresh)
	require.NoError(t, err)
	assert.True(t, fresh.Payload["usd"].Value.Equal(decimal.NewFromInt(100)))

	fx.provider.err = errors.New("down")
	err = fx.manager.ForceRefresh(context.Background(), domain.CategoryCurrency)
	require.Error(t, err, "force refresh surfaces fetch failures instead of serving stale")
}

func TestSnapshotAppendedOncePerHour(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	now := time.Date(2026, 8, 30, 12, 5, 0, 0, time.UTC)
	fx.manager.now = func() time.Time { return now }
	fx.provider.items = []domain.Item{{Code: "usd", Price: decimal.NewFromInt(100), UpdatedAt: now}}

	require.NoError(t, fx.manager.ForceRefresh(context.Background(), domain.CategoryCurrency))

	fx.manager.now = func() time.Time { return now.Add(10 * time.Minute) }
	require.NoError(t, fx.manager.ForceRefresh(context.Background(), domain.CategoryCurrency))

	assert.Len(t, fx.snapshots.snaps, 1, "same hour bucket is written once")
}

func TestReadHistoricalReportsCompleteness(t *testing.T) {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	history := &historyStub{recs: map[string]domain.OHLCRecord{
		"usd": {
			ItemCode:  "usd",
			Close:     decimal.NewFromInt(95),
			PeriodEnd: day.AddDate(0, 0, 1),
		},
	}}
	fx := newFixture(t, history, Options{
		ExpectedItems: map[domain.Category][]string{
			domain.CategoryCurrency: {"usd", "eur"},
		},
	})

	result, err := fx.manager.ReadHistorical(context.Background(), domain.CategoryCurrency, day)
	require.NoError(t, err)
	assert.True(t, result.Meta.IsHistorical)
	assert.Equal(t, domain.SourceOHLC, result.Meta.Source)
	assert.InDelta(t, 0.5, result.Meta.Completeness, 1e-9)
	require.Contains(t, result.Data, "usd")
	assert.True(t, result.Data["usd"].Value.Equal(decimal.NewFromInt(95)), "historical value is the day close")
	assert.NotContains(t, result.Data, "eur")
}

func TestReadHistoricalNothingFound(t *testing.T) {
	fx := newFixture(t, &historyStub{recs: map[string]domain.OHLCRecord{}}, Options{
		ExpectedItems: map[domain.Category][]string{
			domain.CategoryCurrency: {"usd"},
		},
	})

	_, err := fx.manager.ReadHistorical(context.Background(), domain.CategoryCurrency,
		time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrNoDataAvailable)
}
