package orchestrator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// providerResult is one provider's successful parallel-fetch outcome,
// annotated with the provider's priority for primary selection.
type providerResult struct {
	provider string
	priority int
	items    []domain.Item
}

// merge combines successful parallel results per the strategy. A single
// result is returned unmodified regardless of strategy.
func merge(results []providerResult, strategy domain.MergeStrategy) []domain.Item {
	if len(results) == 1 {
		return results[0].items
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].priority < results[j].priority
	})

	switch strategy {
	case domain.MergeOverride:
		return results[0].items
	case domain.MergeNewest:
		return mergeNewest(results)
	case domain.MergeAverage:
		return mergeAverage(results)
	}
	return results[0].items
}

// mergeNewest keeps, per item code, the item with the most recent UpdatedAt
// across providers. Ties go to the higher-priority provider.
func mergeNewest(results []providerResult) []domain.Item {
	byCode := make(map[string]domain.Item)
	var order []string
	for _, res := range results {
		for _, item := range res.items {
			existing, ok := byCode[item.Code]
			if !ok {
				byCode[item.Code] = item
				order = append(order, item.Code)
				continue
			}
			if item.UpdatedAt.After(existing.UpdatedAt) {
				byCode[item.Code] = item
			}
		}
	}
	return collect(byCode, order)
}

// mergeAverage averages, per item code, every numeric field reported by more
// than one provider; fields only one provider reports are kept verbatim. The
// merged item carries the most recent UpdatedAt seen for its code.
func mergeAverage(results []providerResult) []domain.Item {
	type acc struct {
		item   domain.Item
		prices []decimal.Decimal
		change []decimal.Decimal
		high   []decimal.Decimal
		low    []decimal.Decimal
		volume []decimal.Decimal
	}

	byCode := make(map[string]*acc)
	var order []string
	for _, res := range results {
		for _, item := range res.items {
			a, ok := byCode[item.Code]
			if !ok {
				a = &acc{item: item}
				byCode[item.Code] = a
				order = append(order, item.Code)
			}
			a.prices = append(a.prices, item.Price)
			a.change = appendIf(a.change, item.Change)
			a.high = appendIf(a.high, item.High)
			a.low = appendIf(a.low, item.Low)
			a.volume = appendIf(a.volume, item.Volume)
			if item.UpdatedAt.After(a.item.UpdatedAt) {
				a.item.UpdatedAt = item.UpdatedAt
			}
		}
	}

	out := make([]domain.Item, 0, len(order))
	for _, code := range order {
		a := byCode[code]
		item := a.item
		item.Price = mean(a.prices)
		item.Change = meanPtr(a.change)
		item.High = meanPtr(a.high)
		item.Low = meanPtr(a.low)
		item.Volume = meanPtr(a.volume)
		out = append(out, item)
	}
	return out
}

func appendIf(dst []decimal.Decimal, v *decimal.Decimal) []decimal.Decimal {
	if v != nil {
		dst = append(dst, *v)
	}
	return dst
}

func mean(vals []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(vals))))
}

func meanPtr(vals []decimal.Decimal) *decimal.Decimal {
	if len(vals) == 0 {
		return nil
	}
	m := mean(vals)
	return &m
}

func collect(byCode map[string]domain.Item, order []string) []domain.Item {
	out := make([]domain.Item, 0, len(order))
	for _, code := range order {
		out = append(out, byCode[code])
	}
	return out
}
