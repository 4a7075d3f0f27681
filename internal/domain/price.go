// Package domain defines the core models, store interfaces, and error
// taxonomy shared by every arzfeed component. It has no dependencies on the
// concrete Redis/Postgres/S3 implementations.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category identifies a market-data category served by the relay. Categories
// double as provider capabilities: a provider registers the set of categories
// it can serve.
type Category string

const (
	CategoryCurrency Category = "currency"
	CategoryCrypto   Category = "crypto"
	CategoryGold     Category = "gold"
	CategoryCoin     Category = "coin"
)

// AllCategories returns every known category in a stable order.
func AllCategories() []Category {
	return []Category{CategoryCurrency, CategoryCrypto, CategoryGold, CategoryCoin}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryCurrency, CategoryCrypto, CategoryGold, CategoryCoin:
		return true
	}
	return false
}

// Item is the canonical shape of a single upstream quote after vendor
// normalization. Price is always present; the remaining numeric fields are
// optional and nil when the vendor did not supply them.
type Item struct {
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Price     decimal.Decimal  `json:"price"`
	Change    *decimal.Decimal `json:"change,omitempty"`
	High      *decimal.Decimal `json:"high,omitempty"`
	Low       *decimal.Decimal `json:"low,omitempty"`
	Volume    *decimal.Decimal `json:"volume,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Bundle groups the items of a full-catalog fetch by category.
type Bundle struct {
	Currencies []Item `json:"currencies"`
	Crypto     []Item `json:"crypto"`
	Gold       []Item `json:"gold"`
	Coins      []Item `json:"coins"`
}

// ByCategory returns the slice of items for the given category.
func (b Bundle) ByCategory(c Category) []Item {
	switch c {
	case CategoryCurrency:
		return b.Currencies
	case CategoryCrypto:
		return b.Crypto
	case CategoryGold:
		return b.Gold
	case CategoryCoin:
		return b.Coins
	}
	return nil
}

// PriceItem is the cached, serving-side view of one item's latest price.
// LocalDate and LocalTime are rendered in the service's configured local
// calendar and timezone for display.
type PriceItem struct {
	Value         decimal.Decimal  `json:"value"`
	Change        *decimal.Decimal `json:"change,omitempty"`
	CapturedAtUTC time.Time        `json:"captured_at_utc"`
	LocalDate     string           `json:"local_date"`
	LocalTime     string           `json:"local_time"`
}

// Source describes where a read result came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceAPI      Source = "api"
	SourceFallback Source = "fallback"
	SourceSnapshot Source = "snapshot"
	SourceOHLC     Source = "ohlc"
)

// ReadMeta carries freshness and provenance metadata alongside a read result.
type ReadMeta struct {
	IsFresh      bool          `json:"is_fresh"`
	IsStale      bool          `json:"is_stale"`
	DataAge      time.Duration `json:"data_age"`
	Source       Source        `json:"source"`
	Warning      string        `json:"warning,omitempty"`
	IsHistorical bool          `json:"is_historical,omitempty"`
	// Completeness is items-found / items-expected for historical reads;
	// zero for live reads.
	Completeness float64 `json:"completeness,omitempty"`
}

// ReadResult is what the cache manager returns to the serving layer.
type ReadResult struct {
	Data map[string]PriceItem `json:"data"`
	Meta ReadMeta             `json:"meta"`
}
