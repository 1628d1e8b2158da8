package receipt

import "sort"

// unknownShopName stands in for receipts whose shop could not be read
const unknownShopName = "Unknown Shop"

// ShopSpend is one shop's summed spending
type ShopSpend struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// AggregateStats summarizes the completed items. It is recomputed on demand
// and never stored; batches are small enough that caching buys nothing.
type AggregateStats struct {
	TotalSpent     float64     `json:"total_spent"`
	TotalMoms      float64     `json:"total_moms"`
	CompletedCount int         `json:"completed_count"`
	PerShop        []ShopSpend `json:"per_shop"`
}

// ComputeStats derives aggregate statistics from the current items. Only
// completed items contribute; processing and failed ones are excluded.
// PerShop is sorted descending by amount, ties kept in first-encountered
// order.
func ComputeStats(items []*Item) AggregateStats {
	stats := AggregateStats{PerShop: []ShopSpend{}}
	totals := make(map[string]float64)
	var order []string

	for _, item := range items {
		if item.Status != StatusCompleted || item.Data == nil {
			continue
		}
		stats.CompletedCount++
		stats.TotalSpent += item.Data.TotalAmount
		stats.TotalMoms += item.Data.Moms

		shop := item.Data.ShopName
		if shop == "" {
			shop = unknownShopName
		}
		if _, seen := totals[shop]; !seen {
			order = append(order, shop)
		}
		totals[shop] += item.Data.TotalAmount
	}

	for _, name := range order {
		stats.PerShop = append(stats.PerShop, ShopSpend{Name: name, Amount: totals[name]})
	}
	sort.SliceStable(stats.PerShop, func(i, j int) bool {
		return stats.PerShop[i].Amount > stats.PerShop[j].Amount
	})

	return stats
}
