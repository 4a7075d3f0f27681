package ohlc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// RollupDaily derives Day records from the minute data of the UTC day
// containing date. Items that already have a Day record are skipped: once
// written, a Day record is authoritative and never recomputed. Finding zero
// minute records is not an error (markets may be closed).
func (e *Engine) RollupDaily(ctx context.Context, date time.Time) error {
	dayStart := date.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	minutes, err := e.store.ListAllInRange(ctx, domain.TimeframeMinute, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("ohlc: daily rollup: %w", err)
	}
	if len(minutes) == 0 {
		e.logger.Warn("daily rollup found no minute records",
			slog.Time("day", dayStart),
		)
		return nil
	}

	return e.writeRollups(ctx, groupByItem(minutes), domain.TimeframeDay, dayStart, dayEnd)
}

// RollupWeekly aggregates Day records for the week starting at weekStart into
// one Week record per item. Already-rolled-up periods are skipped, so the job
// is idempotent and safe to re-run.
func (e *Engine) RollupWeekly(ctx context.Context, weekStart time.Time) error {
	start := weekStart.UTC().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, 7)
	return e.rollupFromDays(ctx, domain.TimeframeWeek, start, end)
}

// RollupMonthly aggregates Day records for the month containing monthStart
// into one Month record per item.
func (e *Engine) RollupMonthly(ctx context.Context, monthStart time.Time) error {
	y, m, _ := monthStart.UTC().Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return e.rollupFromDays(ctx, domain.TimeframeMonth, start, end)
}

func (e *Engine) rollupFromDays(ctx context.Context, tf domain.Timeframe, start, end time.Time) error {
	days, err := e.store.ListAllInRange(ctx, domain.TimeframeDay, start, end)
	if err != nil {
		return fmt.Errorf("ohlc: %s rollup: %w", tf, err)
	}
	if len(days) == 0 {
		e.logger.Warn("rollup found no day records",
			slog.String("timeframe", string(tf)),
			slog.Time("period_start", start),
		)
		return nil
	}

	return e.writeRollups(ctx, groupByItem(days), tf, start, end)
}

// writeRollups folds each item's source records into one target record and
// inserts it if absent. Individual failures are tolerated: the batch keeps
// going and the per-item update log records the outcome.
func (e *Engine) writeRollups(ctx context.Context, byItem map[string][]domain.OHLCRecord, tf domain.Timeframe, start, end time.Time) error {
	var failures int
	for itemCode, src := range byItem {
		began := e.now()
		rec := foldRecords(itemCode, src, start, end)
		rec.Timeframe = tf

		inserted, err := e.store.InsertIfAbsent(ctx, rec)
		status := domain.UpdateSuccess
		affected := 0
		switch {
		case err != nil:
			failures++
			status = domain.UpdateFailed
			e.logger.Error("rollup write failed",
				slog.String("item", itemCode),
				slog.String("timeframe", string(tf)),
				slog.String("error", err.Error()),
			)
		case inserted:
			affected = 1
		default:
			// Period already rolled up; the no-op keeps the job idempotent.
		}

		e.appendLog(ctx, domain.UpdateLog{
			ID:              uuid.New(),
			ItemCode:        itemCode,
			Timeframe:       tf,
			WindowStart:     start,
			WindowEnd:       end,
			UpdateType:      domain.UpdateAggregation,
			RecordsAffected: affected,
			Status:          status,
			DurationMs:      e.now().Sub(began).Milliseconds(),
			CreatedAt:       e.now(),
		})
	}

	if failures > 0 {
		e.logger.Warn("rollup completed with failures",
			slog.String("timeframe", string(tf)),
			slog.Int("failures", failures),
			slog.Int("items", len(byItem)),
		)
	}
	return nil
}

// appendLog writes an update log best-effort; a failed audit write never
// fails the rollup itself.
func (e *Engine) appendLog(ctx context.Context, log domain.UpdateLog) {
	if err := e.logs.Insert(ctx, log); err != nil {
		e.logger.Warn("update log write failed",
			slog.String("item", log.ItemCode),
			slog.String("error", err.Error()),
		)
	}
}

func groupByItem(recs []domain.OHLCRecord) map[string][]domain.OHLCRecord {
	byItem := make(map[string][]domain.OHLCRecord)
	for _, rec := range recs {
		byItem[rec.ItemCode] = append(byItem[rec.ItemCode], rec)
	}
	return byItem
}
