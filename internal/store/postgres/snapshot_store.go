package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore. Snapshots are append-only:
// writes skip when a row already exists for the (category, hour bucket) key
// and nothing ever deletes them.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Append writes the snapshot unless one already exists for its hour bucket.
// The hour bucket is truncated to the hour before writing.
func (s *SnapshotStore) Append(ctx context.Context, snap domain.PermanentSnapshot) (bool, error) {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return false, fmt.Errorf("postgres: encode snapshot %s: %w", snap.Category, err)
	}

	const query = `
		INSERT INTO permanent_snapshots (category, hour_bucket, payload, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (category, hour_bucket) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		string(snap.Category),
		snap.HourBucket.UTC().Truncate(time.Hour),
		payload,
		snap.Source,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: append snapshot %s: %w", snap.Category, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns the snapshot for (category, hourBucket) or domain.ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, category domain.Category, hourBucket time.Time) (domain.PermanentSnapshot, error) {
	const query = `
		SELECT category, hour_bucket, payload, source
		FROM permanent_snapshots
		WHERE category = $1 AND hour_bucket = $2`

	var (
		snap    domain.PermanentSnapshot
		cat     string
		payload []byte
	)
	err := s.pool.QueryRow(ctx, query, string(category), hourBucket.UTC().Truncate(time.Hour)).
		Scan(&cat, &snap.HourBucket, &payload, &snap.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PermanentSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PermanentSnapshot{}, fmt.Errorf("postgres: get snapshot %s: %w", category, err)
	}

	snap.Category = domain.Category(cat)
	if err := json.Unmarshal(payload, &snap.Payload); err != nil {
		return domain.PermanentSnapshot{}, fmt.Errorf("postgres: decode snapshot %s: %w", category, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
