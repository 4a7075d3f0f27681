package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// TierCache implements domain.TierCache using Redis string values. Each
// (category, tier) pair maps to exactly one key, so a SET is an atomic upsert
// and the invariant of at most one Fresh and one Stale entry per category
// holds without any delete-then-insert window.
type TierCache struct {
	rdb *redis.Client
}

// NewTierCache creates a TierCache backed by the given Client.
func NewTierCache(c *Client) *TierCache {
	return &TierCache{rdb: c.Underlying()}
}

func tierKey(category domain.Category, tier domain.Tier) string {
	return fmt.Sprintf("tier:%s:%s", tier, category)
}

// Get returns the entry for (category, tier), or domain.ErrNotFound when the
// key is missing or has expired.
func (tc *TierCache) Get(ctx context.Context, category domain.Category, tier domain.Tier) (domain.CacheEntry, error) {
	raw, err := tc.rdb.Get(ctx, tierKey(category, tier)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CacheEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("redis: get tier %s/%s: %w", tier, category, err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("redis: decode tier %s/%s: %w", tier, category, err)
	}
	return entry, nil
}

// Upsert atomically replaces the entry for (entry.Category, entry.Tier) and
// lets Redis enforce the expiry.
func (tc *TierCache) Upsert(ctx context.Context, entry domain.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: encode tier %s/%s: %w", entry.Tier, entry.Category, err)
	}
	if err := tc.rdb.Set(ctx, tierKey(entry.Category, entry.Tier), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set tier %s/%s: %w", entry.Tier, entry.Category, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TierCache = (*TierCache)(nil)
