package domain

import (
	"context"
	"time"
)

// Tier identifies a cache tier. Fresh and Stale live in Redis with differing
// TTLs; Archived entries are the permanent hourly snapshots in Postgres.
type Tier string

const (
	TierFresh    Tier = "fresh"
	TierStale    Tier = "stale"
	TierArchived Tier = "archived"
)

// CacheEntry is one tier's payload for a category. At most one Fresh and one
// Stale entry exist per category at any time; the tier stores enforce this by
// upserting on (category, tier) rather than deleting and re-inserting.
type CacheEntry struct {
	Category   Category             `json:"category"`
	Tier       Tier                 `json:"tier"`
	Payload    map[string]PriceItem `json:"payload"`
	CapturedAt time.Time            `json:"captured_at"`
	ExpiresAt  time.Time            `json:"expires_at"`
	IsFallback bool                 `json:"is_fallback"`
	LastError  string               `json:"last_error,omitempty"`
	ErrorCount int                  `json:"error_count,omitempty"`
}

// Age returns how old the entry's data is at the given instant.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CapturedAt)
}

// PermanentSnapshot is an append-only hourly archive of a category's payload.
// At most one snapshot exists per (category, hour bucket); writes are
// idempotent skip-if-exists and snapshots are never deleted.
type PermanentSnapshot struct {
	Category   Category             `json:"category"`
	Payload    map[string]PriceItem `json:"payload"`
	HourBucket time.Time            `json:"hour_bucket"`
	Source     string               `json:"source"`
}

// TierCache stores Fresh and Stale entries keyed by (category, tier).
type TierCache interface {
	// Get returns the entry for (category, tier) or ErrNotFound.
	Get(ctx context.Context, category Category, tier Tier) (CacheEntry, error)
	// Upsert atomically replaces the entry for (entry.Category, entry.Tier)
	// and sets its expiry to ttl from now.
	Upsert(ctx context.Context, entry CacheEntry, ttl time.Duration) error
}

// SnapshotStore persists permanent hourly snapshots.
type SnapshotStore interface {
	// Append writes the snapshot unless one already exists for its
	// (category, hour bucket). It reports whether a row was inserted.
	Append(ctx context.Context, snap PermanentSnapshot) (bool, error)
	// Get returns the snapshot for (category, hourBucket) or ErrNotFound.
	Get(ctx context.Context, category Category, hourBucket time.Time) (PermanentSnapshot, error)
}
