package ohlc

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// memOHLCStore is an in-memory OHLCStore mirroring the Postgres upsert
// semantics: open only on first insert, high/low widen, close overwrites.
type memOHLCStore struct {
	mu   sync.Mutex
	recs map[recKey]domain.OHLCRecord
}

type recKey struct {
	item  string
	tf    domain.Timeframe
	start int64
}

func newMemOHLCStore() *memOHLCStore {
	return &memOHLCStore{recs: make(map[recKey]domain.OHLCRecord)}
}

func (s *memOHLCStore) UpsertMinute(_ context.Context, itemCode string, price decimal.Decimal, periodStart, periodEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recKey{item: itemCode, tf: domain.TimeframeMinute, start: periodStart.Unix()}
	rec, ok := s.recs[key]
	if !ok {
		s.recs[key] = domain.OHLCRecord{
			ItemCode:       itemCode,
			Timeframe:      domain.TimeframeMinute,
			Open:           price,
			High:           price,
			Low:            price,
			Close:          price,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			DataPointCount: 1,
		}
		return nil
	}
	rec.Fold(price)
	s.recs[key] = rec
	return nil
}

func (s *memOHLCStore) InsertIfAbsent(_ context.Context, rec domain.OHLCRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recKey{item: rec.ItemCode, tf: rec.Timeframe, start: rec.PeriodStart.Unix()}
	if _, ok := s.recs[key]; ok {
		return false, nil
	}
	s.recs[key] = rec
	return true, nil
}

func (s *memOHLCStore) Get(_ context.Context, itemCode string, tf domain.Timeframe, periodStart time.Time) (domain.OHLCRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[recKey{item: itemCode, tf: tf, start: periodStart.Unix()}]
	if !ok {
		return domain.OHLCRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memOHLCStore) ListRange(_ context.Context, itemCode string, tf domain.Timeframe, from, to time.Time) ([]domain.OHLCRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.OHLCRecord
	for key, rec := range s.recs {
		if key.item == itemCode && key.tf == tf && !rec.PeriodStart.Before(from) && rec.PeriodStart.Before(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (s *memOHLCStore) ListAllInRange(_ context.Context, tf domain.Timeframe, from, to time.Time) ([]domain.OHLCRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.OHLCRecord
	for key, rec := range s.recs {
		if key.tf == tf && !rec.PeriodStart.Before(from) && rec.PeriodStart.Before(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemCode != out[j].ItemCode {
			return out[i].ItemCode < out[j].ItemCode
		}
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out, nil
}

func (s *memOHLCStore) DeleteMinutesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, rec := range s.recs {
		if key.tf == domain.TimeframeMinute && rec.PeriodStart.Before(cutoff) {
			delete(s.recs, key)
			deleted++
		}
	}
	return deleted, nil
}

// memLogStore is an in-memory UpdateLogStore.
type memLogStore struct {
	mu   sync.Mutex
	logs []domain.UpdateLog
}

func (s *memLogStore) Insert(_ context.Context, log domain.UpdateLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *memLogStore) ListBefore(_ context.Context, cutoff time.Time) ([]domain.UpdateLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UpdateLog
	for _, l := range s.logs {
		if l.CreatedAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memLogStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.UpdateLog
	var deleted int64
	for _, l := range s.logs {
		if l.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, l)
	}
	s.logs = kept
	return deleted, nil
}

var (
	_ domain.OHLCStore      = (*memOHLCStore)(nil)
	_ domain.UpdateLogStore = (*memLogStore)(nil)
)

func newTestEngine(store domain.OHLCStore, logs domain.UpdateLogStore) *Engine {
	return New(store, logs, time.UTC, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordPointFoldsToday(t *testing.T) {
	store := newMemOHLCStore()
	e := newTestEngine(store, &memLogStore{})

	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return day.Add(12 * time.Hour) }

	ctx := context.Background()
	for i, price := range []int64{100, 105, 95, 102} {
		ts := day.Add(time.Duration(10+i) * time.Minute)
		require.NoError(t, e.RecordPoint(ctx, "usd", decimal.NewFromInt(price), ts))
	}

	rec, err := e.Today(ctx, "usd")
	require.NoError(t, err)
	assert.True(t, rec.Open.Equal(decimal.NewFromInt(100)), "open %s", rec.Open)
	assert.True(t, rec.High.Equal(decimal.NewFromInt(105)), "high %s", rec.High)
	assert.True(t, rec.Low.Equal(decimal.NewFromInt(95)), "low %s", rec.Low)
	assert.True(t, rec.Close.Equal(decimal.NewFromInt(102)), "close %s", rec.Close)
	assert.Equal(t, 4, rec.DataPointCount)
	assert.Equal(t, domain.TimeframeDay, rec.Timeframe)
}

func TestTodayRebuildsFromMinutesAfterRestart(t *testing.T) {
	store := newMemOHLCStore()
	e := newTestEngine(store, &memLogStore{})

	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i, price := range []int64{100, 105, 95, 102} {
		ts := day.Add(time.Duration(10+i) * time.Minute)
		require.NoError(t, e.RecordPoint(ctx, "usd", decimal.NewFromInt(price), ts))
	}

	// A fresh engine over the same store has no in-memory today record.
	restarted := newTestEngine(store, &memLogStore{})
	restarted.now = func() time.Time { return day.Add(12 * time.Hour) }

	rec, err := restarted.Today(ctx, "usd")
	require.NoError(t, err)
	assert.True(t, rec.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, rec.High.Equal(decimal.NewFromInt(105)))
	assert.True(t, rec.Low.Equal(decimal.NewFromInt(95)))
	assert.True(t, rec.Close.Equal(decimal.NewFromInt(102)))
	assert.Equal(t, 4, rec.DataPointCount, "one minute bucket per sample")
}

func TestTodayUnknownItem(t *testing.T) {
	e := newTestEngine(newMemOHLCStore(), &memLogStore{})
	_, err := e.Today(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordPointEvictsPastLocalDates(t *testing.T) {
	store := newMemOHLCStore()
	e := newTestEngine(store, &memLogStore{})
	ctx := context.Background()

	day1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, e.RecordPoint(ctx, "usd", decimal.NewFromInt(100), day1))
	require.NoError(t, e.RecordPoint(ctx, "eur", decimal.NewFromInt(200), day1))

	e.mu.Lock()
	assert.Len(t, e.today, 2)
	e.mu.Unlock()

	// The first point of the next local day drops every prior day's record.
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, e.RecordPoint(ctx, "usd", decimal.NewFromInt(101), day2))

	e.mu.Lock()
	require.Len(t, e.today, 1)
	for k := range e.today {
		assert.Equal(t, "2026-08-31", k.localDate)
	}
	e.mu.Unlock()

	e.now = func() time.Time { return day2.Add(time.Hour) }
	rec, err := e.Today(ctx, "usd")
	require.NoError(t, err)
	assert.True(t, rec.Close.Equal(decimal.NewFromInt(101)))
}

func TestRecordPointCollapsesSameMinute(t *testing.T) {
	store := newMemOHLCStore()
	e := newTestEngine(store, &memLogStore{})

	ts := time.Date(2026, 8, 30, 10, 15, 5, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, e.RecordPoint(ctx, "usd", decimal.NewFromInt(100), ts))
	require.NoError(t, e.RecordPoint(ctx, "usd", decimal.NewFromInt(104), ts.Add(20*time.Second)))

	minutes, err := store.ListRange(ctx, "usd", domain.TimeframeMinute, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, minutes, 1, "samples in one minute share a bucket")
	assert.True(t, minutes[0].Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, minutes[0].Close.Equal(decimal.NewFromInt(104)))
	assert.Equal(t, 2, minutes[0].DataPointCount)
}

func TestHistoricalPrefersDayRecord(t *testing.T) {
	store := newMemOHLCStore()
	e := newTestEngine(store, &memLogStore{})

	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	authoritative := domain.OHLCRecord{
		ItemCode:       "usd",
		Timeframe:      domain.TimeframeDay,
		Open:           decimal.NewFromInt(90),
		High:           decimal.NewFromInt(99),
		Low:            decimal.NewFromInt(88),
		Close:          decimal.NewFromInt(95),
		PeriodStart:    day,
		PeriodEnd:      day.AddDate(0, 0, 1),
		DataPointCount: 12,
	}
	_, err := store.InsertIfAbsent(context.Background(), authoritative)
	require.NoError(t, err)

	// Conflicting minute data must not win over the Day record.
	require.NoError(t, store.UpsertMinute(context.Background(), "usd",
		decimal.NewFromInt(1), day.Add(time.Hour), day.Add(time.Hour+time.Minute)))

	rec, err := e.Historical(context.Background(), "usd", day)
	require.NoError(t, err)
	assert.True(t, rec.Close.Equal(decimal.NewFromInt(95)))
	assert.Equal(t, 12, rec.DataPointCount)
}

func TestHistoricalFallsBackToMinutes(t *testing.T) {
	store := newMemOHLCStore()
	e := newTestEngine(store, &memLogStore{})

	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, store.UpsertMinute(ctx, "usd", decimal.NewFromInt(100), day.Add(time.Hour), day.Add(time.Hour+time.Minute)))
	require.NoError(t, store.UpsertMinute(ctx, "usd", decimal.NewFromInt(110), day.Add(2*time.Hour), day.Add(2*time.Hour+time.Minute)))

	rec, err := e.Historical(ctx, "usd", day)
	require.NoError(t, err)
	assert.True(t, rec.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, rec.Close.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, domain.TimeframeDay, rec.Timeframe)
	assert.Equal(t, 2, rec.DataPointCount)
}

func TestRecentPointsEvictsOldest(t *testing.T) {
	e := newTestEngine(newMemOHLCStore(), &memLogStore{}) // ring size 4

	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, e.RecordPoint(ctx, "usd", decimal.NewFromInt(int64(100+i)), ts))
	}

	points := e.RecentPoints("usd")
	require.Len(t, points, 4)
	assert.True(t, points[0].Price.Equal(decimal.NewFromInt(102)), "oldest two evicted")
	assert.True(t, points[3].Price.Equal(decimal.NewFromInt(105)))
	assert.Nil(t, e.RecentPoints("unknown"))
}
