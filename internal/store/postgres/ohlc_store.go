package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// OHLCStore implements domain.OHLCStore. Records are keyed by
// (item_code, timeframe, period_start); minute buckets fold in place while
// day/week/month records are written at most once.
type OHLCStore struct {
	pool *pgxpool.Pool
}

// NewOHLCStore creates an OHLCStore backed by the given pool.
func NewOHLCStore(pool *pgxpool.Pool) *OHLCStore {
	return &OHLCStore{pool: pool}
}

// UpsertMinute folds a price point into the minute bucket: open only on
// first insert, high widens up, low widens down, close always overwrites,
// the data point counter increments.
func (s *OHLCStore) UpsertMinute(ctx context.Context, itemCode string, price decimal.Decimal, periodStart, periodEnd time.Time) error {
	const query = `
		INSERT INTO ohlc_records (
			item_code, timeframe, open, high, low, close,
			period_start, period_end, data_point_count, updated_at
		) VALUES ($1, $2, $3, $3, $3, $3, $4, $5, 1, NOW())
		ON CONFLICT (item_code, timeframe, period_start) DO UPDATE SET
			high             = GREATEST(ohlc_records.high, EXCLUDED.high),
			low              = LEAST(ohlc_records.low, EXCLUDED.low),
			close            = EXCLUDED.close,
			data_point_count = ohlc_records.data_point_count + 1,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		itemCode,
		string(domain.TimeframeMinute),
		price.String(),
		periodStart.UTC(),
		periodEnd.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert minute %s: %w", itemCode, err)
	}
	return nil
}

// InsertIfAbsent writes rec unless a record already exists for its key,
// reporting whether a row was inserted. Day records therefore stay
// authoritative once written, and week/month rollups are idempotent.
func (s *OHLCStore) InsertIfAbsent(ctx context.Context, rec domain.OHLCRecord) (bool, error) {
	const query = `
		INSERT INTO ohlc_records (
			item_code, timeframe, open, high, low, close,
			period_start, period_end, data_point_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (item_code, timeframe, period_start) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.ItemCode,
		string(rec.Timeframe),
		rec.Open.String(),
		rec.High.String(),
		rec.Low.String(),
		rec.Close.String(),
		rec.PeriodStart.UTC(),
		rec.PeriodEnd.UTC(),
		rec.DataPointCount,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert %s %s: %w", rec.Timeframe, rec.ItemCode, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns the record for the exact key or domain.ErrNotFound.
func (s *OHLCStore) Get(ctx context.Context, itemCode string, tf domain.Timeframe, periodStart time.Time) (domain.OHLCRecord, error) {
	const query = selectColumns + `
		WHERE item_code = $1 AND timeframe = $2 AND period_start = $3`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, itemCode, string(tf), periodStart.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OHLCRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OHLCRecord{}, fmt.Errorf("postgres: get %s %s: %w", tf, itemCode, err)
	}
	return rec, nil
}

// ListRange returns records for (itemCode, tf) with period start in [from,
// to), period start ascending.
func (s *OHLCStore) ListRange(ctx context.Context, itemCode string, tf domain.Timeframe, from, to time.Time) ([]domain.OHLCRecord, error) {
	const query = selectColumns + `
		WHERE item_code = $1 AND timeframe = $2
		  AND period_start >= $3 AND period_start < $4
		ORDER BY period_start`

	rows, err := s.pool.Query(ctx, query, itemCode, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list range %s %s: %w", tf, itemCode, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListAllInRange returns every item's records with the given timeframe and
// period start in [from, to), ordered by item code then period start.
func (s *OHLCStore) ListAllInRange(ctx context.Context, tf domain.Timeframe, from, to time.Time) ([]domain.OHLCRecord, error) {
	const query = selectColumns + `
		WHERE timeframe = $1 AND period_start >= $2 AND period_start < $3
		ORDER BY item_code, period_start`

	rows, err := s.pool.Query(ctx, query, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list all %s: %w", tf, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DeleteMinutesBefore removes minute records older than cutoff, returning how
// many rows were deleted. Called only after a verified archive upload.
func (s *OHLCStore) DeleteMinutesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM ohlc_records
		WHERE timeframe = $1 AND period_start < $2`

	tag, err := s.pool.Exec(ctx, query, string(domain.TimeframeMinute), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete minutes before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

const selectColumns = `
	SELECT item_code, timeframe, open::text, high::text, low::text, close::text,
	       period_start, period_end, data_point_count
	FROM ohlc_records`

func scanRecord(row pgx.Row) (domain.OHLCRecord, error) {
	var (
		rec                    domain.OHLCRecord
		tf                     string
		open, high, low, close string
	)
	err := row.Scan(&rec.ItemCode, &tf, &open, &high, &low, &close,
		&rec.PeriodStart, &rec.PeriodEnd, &rec.DataPointCount)
	if err != nil {
		return domain.OHLCRecord{}, err
	}
	rec.Timeframe = domain.Timeframe(tf)

	for _, pair := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{open, &rec.Open}, {high, &rec.High}, {low, &rec.Low}, {close, &rec.Close},
	} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return domain.OHLCRecord{}, fmt.Errorf("parse numeric %q: %w", pair.src, err)
		}
		*pair.dst = d
	}
	return rec, nil
}

func scanRecords(rows pgx.Rows) ([]domain.OHLCRecord, error) {
	var out []domain.OHLCRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ohlc record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate ohlc records: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.OHLCStore = (*OHLCStore)(nil)
