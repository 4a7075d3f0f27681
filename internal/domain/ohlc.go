package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Timeframe is the aggregation granularity of an OHLC record.
type Timeframe string

const (
	TimeframeMinute Timeframe = "minute"
	TimeframeDay    Timeframe = "day"
	TimeframeWeek   Timeframe = "week"
	TimeframeMonth  Timeframe = "month"
)

// OHLCRecord is a single open/high/low/close summary for an item over one
// period. Day-level records are the authoritative source once written;
// Week/Month records are deterministic aggregates of the Day level, written
// at most once per (item, timeframe, period start).
type OHLCRecord struct {
	ItemCode       string          `json:"item_code"`
	Timeframe      Timeframe       `json:"timeframe"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	DataPointCount int             `json:"data_point_count"`
}

// Fold merges a new price into the record: high/low widen, close always
// overwrites, the data point counter increments. Open is untouched.
func (r *OHLCRecord) Fold(price decimal.Decimal) {
	if price.GreaterThan(r.High) {
		r.High = price
	}
	if price.LessThan(r.Low) {
		r.Low = price
	}
	r.Close = price
	r.DataPointCount++
}

// UpdateType classifies an OHLC write batch.
type UpdateType string

const (
	UpdateBackfill    UpdateType = "backfill"
	UpdateRealtime    UpdateType = "realtime"
	UpdateCorrection  UpdateType = "correction"
	UpdateAggregation UpdateType = "aggregation"
)

// UpdateStatus is the outcome of an OHLC write batch.
type UpdateStatus string

const (
	UpdateSuccess UpdateStatus = "success"
	UpdatePartial UpdateStatus = "partial"
	UpdateFailed  UpdateStatus = "failed"
)

// UpdateLog records one OHLC write batch for auditing. Logs are retained for
// a bounded window and then archived and purged.
type UpdateLog struct {
	ID              uuid.UUID    `json:"id"`
	ItemCode        string       `json:"item_code"`
	Timeframe       Timeframe    `json:"timeframe"`
	WindowStart     time.Time    `json:"window_start"`
	WindowEnd       time.Time    `json:"window_end"`
	UpdateType      UpdateType   `json:"update_type"`
	RecordsAffected int          `json:"records_affected"`
	Status          UpdateStatus `json:"status"`
	DurationMs      int64        `json:"duration_ms"`
	CreatedAt       time.Time    `json:"created_at"`
}

// OHLCStore persists OHLC records keyed by (item, timeframe, period start).
type OHLCStore interface {
	// UpsertMinute folds a price point into the minute bucket at
	// periodStart: open is set only on first insert, high/low widen, close
	// overwrites, the counter increments.
	UpsertMinute(ctx context.Context, itemCode string, price decimal.Decimal, periodStart, periodEnd time.Time) error
	// InsertIfAbsent writes rec unless a record already exists for its key.
	// It reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, rec OHLCRecord) (bool, error)
	// Get returns the record for the exact key or ErrNotFound.
	Get(ctx context.Context, itemCode string, tf Timeframe, periodStart time.Time) (OHLCRecord, error)
	// ListRange returns records for (itemCode, tf) with period start in
	// [from, to), ordered by period start ascending.
	ListRange(ctx context.Context, itemCode string, tf Timeframe, from, to time.Time) ([]OHLCRecord, error)
	// ListAllInRange returns records for every item with the given timeframe
	// and period start in [from, to), ordered by item code then period start.
	ListAllInRange(ctx context.Context, tf Timeframe, from, to time.Time) ([]OHLCRecord, error)
	// DeleteMinutesBefore removes minute-level records older than cutoff,
	// returning how many rows were deleted. Used after archival.
	DeleteMinutesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UpdateLogStore persists OHLC update logs.
type UpdateLogStore interface {
	Insert(ctx context.Context, log UpdateLog) error
	// ListBefore returns logs created strictly before cutoff, oldest first.
	ListBefore(ctx context.Context, cutoff time.Time) ([]UpdateLog, error)
	// DeleteBefore removes logs created strictly before cutoff, returning
	// how many rows were deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
