package domain

import (
	"context"
	"time"
)

// Params are query parameters forwarded to an upstream provider.
type Params map[string]string

// ProviderMetadata describes an upstream provider.
type ProviderMetadata struct {
	Name               string  `json:"name"`
	BaseURL            string  `json:"base_url"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
}

// RateLimitStatus reports an upstream provider's remaining quota.
type RateLimitStatus struct {
	Remaining int       `json:"remaining"`
	Total     int       `json:"total"`
	Reset     time.Time `json:"reset"`
}

// Provider is a normalized upstream market-data source. Implementations wrap
// a vendor API behind the rate-limited fetch client and a vendor mapper.
type Provider interface {
	Name() string
	FetchCurrencies(ctx context.Context, params Params) ([]Item, error)
	FetchCrypto(ctx context.Context, params Params) ([]Item, error)
	FetchGold(ctx context.Context, params Params) ([]Item, error)
	FetchCoins(ctx context.Context, params Params) ([]Item, error)
	FetchAll(ctx context.Context, params Params) (Bundle, error)
	Metadata() ProviderMetadata
	ValidateAPIKey(ctx context.Context) (bool, error)
	RateLimitStatus(ctx context.Context) (RateLimitStatus, error)
}

// FetchByCategory dispatches to the provider method matching the category.
func FetchByCategory(ctx context.Context, p Provider, c Category, params Params) ([]Item, error) {
	switch c {
	case CategoryCurrency:
		return p.FetchCurrencies(ctx, params)
	case CategoryCrypto:
		return p.FetchCrypto(ctx, params)
	case CategoryGold:
		return p.FetchGold(ctx, params)
	case CategoryCoin:
		return p.FetchCoins(ctx, params)
	}
	return nil, &ValidationError{Endpoint: string(c), Reason: "unknown category"}
}

// ProviderRegistration is the orchestrator's view of a registered provider.
// Registrations are rebuilt at startup and mutable at runtime; they are never
// persisted.
type ProviderRegistration struct {
	Name         string            `json:"name"`
	Priority     int               `json:"priority"` // lower = tried first
	Capabilities map[Category]bool `json:"capabilities"`
	Enabled      bool              `json:"enabled"`
}

// CanServe reports whether the registration covers the category.
func (r ProviderRegistration) CanServe(c Category) bool {
	return r.Capabilities[c]
}

// MergeStrategy selects how parallel fetch results are combined.
type MergeStrategy string

const (
	// MergeOverride takes the primary provider's result verbatim.
	MergeOverride MergeStrategy = "override"
	// MergeNewest keeps, per item code, the most recently updated item.
	MergeNewest MergeStrategy = "newest"
	// MergeAverage averages numeric fields present in more than one
	// provider's result, keeping the most recent update time per code.
	MergeAverage MergeStrategy = "average"
)
