package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// UpdateLogStore implements domain.UpdateLogStore.
type UpdateLogStore struct {
	pool *pgxpool.Pool
}

// NewUpdateLogStore creates an UpdateLogStore backed by the given pool.
func NewUpdateLogStore(pool *pgxpool.Pool) *UpdateLogStore {
	return &UpdateLogStore{pool: pool}
}

// Insert writes one update log row.
func (s *UpdateLogStore) Insert(ctx context.Context, log domain.UpdateLog) error {
	const query = `
		INSERT INTO update_logs (
			id, item_code, timeframe, window_start, window_end,
			update_type, records_affected, status, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		log.ID,
		log.ItemCode,
		string(log.Timeframe),
		log.WindowStart.UTC(),
		log.WindowEnd.UTC(),
		string(log.UpdateType),
		log.RecordsAffected,
		string(log.Status),
		log.DurationMs,
		log.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert update log %s: %w", log.ID, err)
	}
	return nil
}

// ListBefore returns logs created strictly before cutoff, oldest first.
func (s *UpdateLogStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.UpdateLog, error) {
	const query = `
		SELECT id, item_code, timeframe, window_start, window_end,
		       update_type, records_affected, status, duration_ms, created_at
		FROM update_logs
		WHERE created_at < $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list update logs: %w", err)
	}
	defer rows.Close()

	var out []domain.UpdateLog
	for rows.Next() {
		log, err := scanUpdateLog(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan update log: %w", err)
		}
		out = append(out, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate update logs: %w", err)
	}
	return out, nil
}

// DeleteBefore removes logs created strictly before cutoff, returning how
// many rows were deleted.
func (s *UpdateLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM update_logs WHERE created_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete update logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUpdateLog(row pgx.Row) (domain.UpdateLog, error) {
	var (
		log        domain.UpdateLog
		tf, ut, st string
	)
	err := row.Scan(&log.ID, &log.ItemCode, &tf, &log.WindowStart, &log.WindowEnd,
		&ut, &log.RecordsAffected, &st, &log.DurationMs, &log.CreatedAt)
	if err != nil {
		return domain.UpdateLog{}, err
	}
	log.Timeframe = domain.Timeframe(tf)
	log.UpdateType = domain.UpdateType(ut)
	log.Status = domain.UpdateStatus(st)
	return log, nil
}

// Compile-time interface check.
var _ domain.UpdateLogStore = (*UpdateLogStore)(nil)
