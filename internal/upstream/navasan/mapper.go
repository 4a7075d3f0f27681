package navasan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// quote is the vendor's wire shape for one item. Numeric fields arrive as
// strings or numbers depending on the endpoint, so everything decodes through
// json.Number-tolerant raw fields.
type quote struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value"`
	Change    json.RawMessage `json:"change"`
	High      json.RawMessage `json:"high"`
	Low       json.RawMessage `json:"low"`
	Volume    json.RawMessage `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// mapper normalizes vendor payloads into canonical items. Unit multipliers
// correct vendor quirks per item code (some coin items are quoted in
// thousands); they are configuration, not code.
type mapper struct {
	multipliers map[string]decimal.Decimal
}

func newMapper(multipliers map[string]float64) *mapper {
	m := make(map[string]decimal.Decimal, len(multipliers))
	for code, factor := range multipliers {
		m[code] = decimal.NewFromFloat(factor)
	}
	return &mapper{multipliers: m}
}

// mapItems decodes a vendor body of code -> quote into canonical items.
// Failures are reported as MappingError so the error tracker can count them
// under the mapping context.
func (m *mapper) mapItems(body []byte) ([]domain.Item, error) {
	var quotes map[string]quote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, &domain.MappingError{Provider: providerName, Field: "body", Err: err}
	}

	items := make([]domain.Item, 0, len(quotes))
	for code, q := range quotes {
		price, err := parseDecimal(q.Value)
		if err != nil {
			return nil, &domain.MappingError{Provider: providerName, Field: code + ".value", Err: err}
		}
		if price == nil {
			return nil, &domain.MappingError{Provider: providerName, Field: code + ".value", Err: fmt.Errorf("missing")}
		}

		item := domain.Item{
			Code:      code,
			Name:      q.Name,
			Price:     *price,
			UpdatedAt: time.Unix(q.Timestamp, 0).UTC(),
		}
		if item.Change, err = parseDecimal(q.Change); err != nil {
			return nil, &domain.MappingError{Provider: providerName, Field: code + ".change", Err: err}
		}
		if item.High, err = parseDecimal(q.High); err != nil {
			return nil, &domain.MappingError{Provider: providerName, Field: code + ".high", Err: err}
		}
		if item.Low, err = parseDecimal(q.Low); err != nil {
			return nil, &domain.MappingError{Provider: providerName, Field: code + ".low", Err: err}
		}
		if item.Volume, err = parseDecimal(q.Volume); err != nil {
			return nil, &domain.MappingError{Provider: providerName, Field: code + ".volume", Err: err}
		}

		if factor, ok := m.multipliers[code]; ok {
			item.Price = item.Price.Mul(factor)
			if item.High != nil {
				h := item.High.Mul(factor)
				item.High = &h
			}
			if item.Low != nil {
				l := item.Low.Mul(factor)
				item.Low = &l
			}
		}

		items = append(items, item)
	}
	return items, nil
}

// parseDecimal accepts a JSON number, a numeric string, or null/absent.
func parseDecimal(raw json.RawMessage) (*decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	s := string(raw)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	if s == "" || s == "-" {
		return nil, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return &d, nil
}
