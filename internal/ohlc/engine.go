// Package ohlc implements the aggregation engine: intraday point recording,
// day-level source-of-truth records, weekly/monthly rollups, and the update
// log trail.
package ohlc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// todayKey identifies one item's live intraday record.
type todayKey struct {
	itemCode  string
	localDate string
}

// todayRecord is the in-memory intraday fold for one (item, local date).
type todayRecord struct {
	rec         domain.OHLCRecord
	updateCount int
}

// Engine records intraday price points and serves today's live OHLC. Durable
// minute records back both the daily rollup and historical reads; the live
// today record and the charting ring buffers are in-memory and rebuilt from
// minute records after a restart.
type Engine struct {
	store    domain.OHLCStore
	logs     domain.UpdateLogStore
	ringSize int
	loc      *time.Location
	logger   *slog.Logger

	mu    sync.Mutex
	today map[todayKey]*todayRecord
	rings map[string]*ring

	now func() time.Time
}

// New creates an Engine. loc is the local calendar used to bucket "today";
// ringSize bounds the per-item charting buffer.
func New(store domain.OHLCStore, logs domain.UpdateLogStore, loc *time.Location, ringSize int, logger *slog.Logger) *Engine {
	if ringSize <= 0 {
		ringSize = 144
	}
	return &Engine{
		store:    store,
		logs:     logs,
		ringSize: ringSize,
		loc:      loc,
		logger:   logger,
		today:    make(map[todayKey]*todayRecord),
		rings:    make(map[string]*ring),
		now:      time.Now,
	}
}

// RecordPoint folds one price sample into the item's minute bucket, the live
// today record, and the charting ring buffer.
func (e *Engine) RecordPoint(ctx context.Context, itemCode string, price decimal.Decimal, ts time.Time) error {
	minuteStart := ts.UTC().Truncate(time.Minute)
	if err := e.store.UpsertMinute(ctx, itemCode, price, minuteStart, minuteStart.Add(time.Minute)); err != nil {
		return fmt.Errorf("ohlc: record point %s: %w", itemCode, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := todayKey{itemCode: itemCode, localDate: ts.In(e.loc).Format("2006-01-02")}
	t, ok := e.today[key]
	if !ok {
		e.evictPastDays(key.localDate)
		t = &todayRecord{rec: domain.OHLCRecord{
			ItemCode:       itemCode,
			Timeframe:      domain.TimeframeDay,
			Open:           price,
			High:           price,
			Low:            price,
			Close:          price,
			PeriodStart:    localDayStart(ts, e.loc),
			PeriodEnd:      localDayStart(ts, e.loc).AddDate(0, 0, 1),
			DataPointCount: 1,
		}}
		e.today[key] = t
	} else {
		t.rec.Fold(price)
	}
	t.updateCount++

	r, ok := e.rings[itemCode]
	if !ok {
		r = newRing(e.ringSize)
		e.rings[itemCode] = r
	}
	r.push(Point{Price: price, At: ts.UTC()})

	return nil
}

// Today returns the item's live OHLC for the current local date. After a
// restart it is rebuilt from the day's minute records.
func (e *Engine) Today(ctx context.Context, itemCode string) (domain.OHLCRecord, error) {
	now := e.now()
	key := todayKey{itemCode: itemCode, localDate: now.In(e.loc).Format("2006-01-02")}

	e.mu.Lock()
	if t, ok := e.today[key]; ok {
		rec := t.rec
		e.mu.Unlock()
		return rec, nil
	}
	e.mu.Unlock()

	dayStart := localDayStart(now, e.loc)
	rec, err := e.aggregateMinutes(ctx, itemCode, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return domain.OHLCRecord{}, err
	}
	rec.Timeframe = domain.TimeframeDay

	e.mu.Lock()
	if _, ok := e.today[key]; !ok {
		e.evictPastDays(key.localDate)
		e.today[key] = &todayRecord{rec: rec}
	}
	e.mu.Unlock()
	return rec, nil
}

// evictPastDays drops live records whose local date is no longer current;
// without it the map grows by one entry per item per day for the life of the
// process. Callers hold e.mu.
func (e *Engine) evictPastDays(current string) {
	for k := range e.today {
		if k.localDate != current {
			delete(e.today, k)
		}
	}
}

// Historical returns the item's Day record for the given date. When no Day
// record exists the day's minute records are aggregated on the fly.
func (e *Engine) Historical(ctx context.Context, itemCode string, date time.Time) (domain.OHLCRecord, error) {
	dayStart := date.UTC().Truncate(24 * time.Hour)

	rec, err := e.store.Get(ctx, itemCode, domain.TimeframeDay, dayStart)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.OHLCRecord{}, fmt.Errorf("ohlc: historical %s: %w", itemCode, err)
	}

	rec, err = e.aggregateMinutes(ctx, itemCode, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return domain.OHLCRecord{}, err
	}
	rec.Timeframe = domain.TimeframeDay
	return rec, nil
}

// RecentPoints returns the item's buffered charting points, oldest first.
func (e *Engine) RecentPoints(itemCode string) []Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rings[itemCode]; ok {
		return r.points()
	}
	return nil
}

// aggregateMinutes folds the item's minute records within [from, to) into a
// single record: open from the earliest minute, close from the latest,
// high/low across all.
func (e *Engine) aggregateMinutes(ctx context.Context, itemCode string, from, to time.Time) (domain.OHLCRecord, error) {
	minutes, err := e.store.ListRange(ctx, itemCode, domain.TimeframeMinute, from, to)
	if err != nil {
		return domain.OHLCRecord{}, fmt.Errorf("ohlc: aggregate minutes %s: %w", itemCode, err)
	}
	if len(minutes) == 0 {
		return domain.OHLCRecord{}, domain.ErrNotFound
	}
	return foldRecords(itemCode, minutes, from, to), nil
}

// foldRecords combines period-ordered source records into one summary:
// open = first record's open, close = last record's close, high/low widened
// across all, count = number of source records folded.
func foldRecords(itemCode string, src []domain.OHLCRecord, periodStart, periodEnd time.Time) domain.OHLCRecord {
	out := domain.OHLCRecord{
		ItemCode:       itemCode,
		Open:           src[0].Open,
		High:           src[0].High,
		Low:            src[0].Low,
		Close:          src[len(src)-1].Close,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		DataPointCount: len(src),
	}
	for _, rec := range src[1:] {
		if rec.High.GreaterThan(out.High) {
			out.High = rec.High
		}
		if rec.Low.LessThan(out.Low) {
			out.Low = rec.Low
		}
	}
	return out
}

// localDayStart returns the UTC instant at which the local calendar day
// containing ts begins.
func localDayStart(ts time.Time, loc *time.Location) time.Time {
	local := ts.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
}
