// Package navasan adapts the Navasan market-data vendor to the canonical
// provider interface: per-category endpoints behind the shared rate-limited
// fetch client, with vendor field normalization and Jalali display dates.
package navasan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arzfeed/arzfeed/internal/domain"
	"github.com/arzfeed/arzfeed/internal/tracker"
	"github.com/arzfeed/arzfeed/internal/upstream"
)

const providerName = "navasan"

// mapContext is the error-tracker key for vendor mapping failures.
const mapContext = providerName + ":map"

var endpoints = map[domain.Category]string{
	domain.CategoryCurrency: "/latest/currencies",
	domain.CategoryCrypto:   "/latest/crypto",
	domain.CategoryGold:     "/latest/gold",
	domain.CategoryCoin:     "/latest/coins",
}

// Provider implements domain.Provider against the Navasan HTTP API.
type Provider struct {
	baseURL string
	apiKey  string
	fetcher *upstream.Client
	mapper  *mapper
	tracker *tracker.Tracker
}

// New creates a Provider. multipliers corrects vendor unit mismatches per
// item code; errTracker counts mapping failures (may be shared with other
// adapters).
func New(baseURL, apiKey string, multipliers map[string]float64, fetcher *upstream.Client, errTracker *tracker.Tracker) *Provider {
	return &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		fetcher: fetcher,
		mapper:  newMapper(multipliers),
		tracker: errTracker,
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) FetchCurrencies(ctx context.Context, params domain.Params) ([]domain.Item, error) {
	return p.fetchCategory(ctx, domain.CategoryCurrency, params)
}

func (p *Provider) FetchCrypto(ctx context.Context, params domain.Params) ([]domain.Item, error) {
	return p.fetchCategory(ctx, domain.CategoryCrypto, params)
}

func (p *Provider) FetchGold(ctx context.Context, params domain.Params) ([]domain.Item, error) {
	return p.fetchCategory(ctx, domain.CategoryGold, params)
}

func (p *Provider) FetchCoins(ctx context.Context, params domain.Params) ([]domain.Item, error) {
	return p.fetchCategory(ctx, domain.CategoryCoin, params)
}

// FetchAll fetches every category sequentially through the shared token
// bucket; a single category's failure fails the whole call.
func (p *Provider) FetchAll(ctx context.Context, params domain.Params) (domain.Bundle, error) {
	var bundle domain.Bundle
	for _, c := range domain.AllCategories() {
		items, err := p.fetchCategory(ctx, c, params)
		if err != nil {
			return domain.Bundle{}, fmt.Errorf("navasan: fetch all: %w", err)
		}
		switch c {
		case domain.CategoryCurrency:
			bundle.Currencies = items
		case domain.CategoryCrypto:
			bundle.Crypto = items
		case domain.CategoryGold:
			bundle.Gold = items
		case domain.CategoryCoin:
			bundle.Coins = items
		}
	}
	return bundle, nil
}

func (p *Provider) fetchCategory(ctx context.Context, c domain.Category, params domain.Params) ([]domain.Item, error) {
	merged := domain.Params{"api_key": p.apiKey}
	for k, v := range params {
		merged[k] = v
	}

	body, err := p.fetcher.Fetch(ctx, p.baseURL+endpoints[c], merged)
	if err != nil {
		return nil, err
	}

	items, err := p.mapper.mapItems(body)
	if err != nil {
		var mapErr *domain.MappingError
		if errors.As(err, &mapErr) && p.tracker != nil {
			if trip := p.tracker.Track(mapContext, err); trip != nil {
				return nil, trip
			}
		}
		return nil, err
	}
	if p.tracker != nil {
		p.tracker.Reset(mapContext)
	}
	return items, nil
}

func (p *Provider) Metadata() domain.ProviderMetadata {
	return domain.ProviderMetadata{
		Name:               providerName,
		BaseURL:            p.baseURL,
		RateLimitPerSecond: 0.2, // one call per five seconds
	}
}

// ValidateAPIKey probes a cheap endpoint and distinguishes credential
// rejection from other failures.
func (p *Provider) ValidateAPIKey(ctx context.Context) (bool, error) {
	_, err := p.fetcher.Fetch(ctx, p.baseURL+"/status", domain.Params{"api_key": p.apiKey})
	if err == nil {
		return true, nil
	}
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return false, nil
	}
	return false, fmt.Errorf("navasan: validate api key: %w", err)
}

// RateLimitStatus reports the vendor-side quota from the status endpoint.
func (p *Provider) RateLimitStatus(ctx context.Context) (domain.RateLimitStatus, error) {
	body, err := p.fetcher.Fetch(ctx, p.baseURL+"/status", domain.Params{"api_key": p.apiKey})
	if err != nil {
		return domain.RateLimitStatus{}, fmt.Errorf("navasan: rate limit status: %w", err)
	}

	var status struct {
		Remaining int   `json:"remaining"`
		Total     int   `json:"total"`
		Reset     int64 `json:"reset"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return domain.RateLimitStatus{}, &domain.ValidationError{
			Endpoint: "/status", Reason: "unexpected status shape", Err: err,
		}
	}
	return domain.RateLimitStatus{
		Remaining: status.Remaining,
		Total:     status.Total,
		Reset:     time.Unix(status.Reset, 0).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.Provider = (*Provider)(nil)
