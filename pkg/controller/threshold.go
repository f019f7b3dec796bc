package controller

import (
	"sort"

	"github.com/shopspring/decimal"
)

const pricePlaces = 3

// SelectThreshold returns the threshold that lets exactly n of the sorted
// prices through: the nth cheapest price plus headroom, rounded to 3 decimal
// places. n larger than the list selects every price. It returns false when
// n is zero or the list is empty, in which case the threshold must be left
// unchanged.
func SelectThreshold(sorted []decimal.Decimal, n int, headroom decimal.Decimal) (decimal.Decimal, bool) {
	if n > len(sorted) {
		n = len(sorted)
	}
	if n <= 0 {
		return decimal.Decimal{}, false
	}
	return sorted[n-1].Add(headroom).Round(pricePlaces), true
}

func sortPrices(prices []decimal.Decimal) {
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].LessThan(prices[j])
	})
}
