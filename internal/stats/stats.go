// Package stats computes statistical aggregates over a sale-history window.
// All functions are pure: they take the history and a day count, filter to
// records at or after now-d*86400, and return derived values. Absent values
// (empty window) come back as nil pointers.
//
// Monetary legs (revenue, effective cost) run through shopspring/decimal;
// only dimensionless ratios are returned as float64.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
)

const secondsPerDay = 86400

func cutoff(days int) int64 {
	return time.Now().Unix() - int64(days)*secondsPerDay
}

// windowPrices returns the unit prices of sales inside the lookback window.
// Records strictly before the cutoff are excluded.
func windowPrices(history []model.Sale, days int) []float64 {
	cut := cutoff(days)
	var prices []float64
	for _, s := range history {
		if s.Timestamp >= cut {
			prices = append(prices, float64(s.PricePerUnit))
		}
	}
	return prices
}

// AvgPrice is the arithmetic mean of in-window unit prices, nil when the
// window is empty.
func AvgPrice(history []model.Sale, days int) *float64 {
	prices := windowPrices(history, days)
	if len(prices) == 0 {
		return nil
	}
	sum := 0.0
	for _, p := range prices {
		sum += p
	}
	avg := sum / float64(len(prices))
	return &avg
}

// QuantilePrice returns the q-quantile of in-window unit prices using the
// nearest-rank index round((n-1)*q) on the ascending sort. Nil when empty.
func QuantilePrice(history []model.Sale, days int, q float64) *float64 {
	prices := windowPrices(history, days)
	if len(prices) == 0 {
		return nil
	}
	sort.Float64s(prices)
	idx := int(math.Round(float64(len(prices)-1) * q))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(prices) {
		idx = len(prices) - 1
	}
	v := prices[idx]
	return &v
}

// MedianPrice is QuantilePrice at q=0.5.
func MedianPrice(history []model.Sale, days int) *float64 {
	return QuantilePrice(history, days, 0.5)
}

// TrimmedMeanPrice discards floor(n*trim) prices from each end of the sorted
// window before averaging. trim is clamped to [0, 0.45]. When trimming
// empties the window the full set is averaged instead. Nil when the window
// itself is empty.
func TrimmedMeanPrice(history []model.Sale, days int, trim float64) *float64 {
	prices := windowPrices(history, days)
	if len(prices) == 0 {
		return nil
	}
	if trim < 0 {
		trim = 0
	}
	if trim > 0.45 {
		trim = 0.45
	}
	sort.Float64s(prices)
	drop := int(math.Floor(float64(len(prices)) * trim))
	core := prices
	if drop > 0 && len(prices)-2*drop > 0 {
		core = prices[drop : len(prices)-drop]
	}
	sum := 0.0
	for _, p := range core {
		sum += p
	}
	avg := sum / float64(len(core))
	return &avg
}

// PriceCV is the coefficient of variation (population standard deviation
// over mean) of in-window prices. Nil with fewer than 2 samples or a zero
// mean.
func PriceCV(history []model.Sale, days int) *float64 {
	prices := windowPrices(history, days)
	if len(prices) < 2 {
		return nil
	}
	sum := 0.0
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return nil
	}
	variance := 0.0
	for _, p := range prices {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(prices))
	cv := math.Sqrt(variance) / mean
	return &cv
}

// SalesPerDay is the sum of in-window quantities divided by the day count.
func SalesPerDay(history []model.Sale, days int) float64 {
	if days <= 0 {
		return 0
	}
	return float64(UnitsSold(history, days)) / float64(days)
}

// UnitsSold is the total quantity sold inside the window.
func UnitsSold(history []model.Sale, days int) int64 {
	cut := cutoff(days)
	var qty int64
	for _, s := range history {
		if s.Timestamp >= cut {
			qty += s.Quantity
		}
	}
	return qty
}

func clampTax(t float64) float64 {
	return math.Max(0, math.Min(t, 1))
}

// ROI is (netPrice*(1-sellerTax) - cost*(1+buyerTax)) / (cost*(1+buyerTax)).
// Zero when cost is non-positive. Tax fractions are clamped to [0, 1].
func ROI(netPrice, cost, buyerTax, sellerTax float64) float64 {
	if cost <= 0 {
		return 0
	}
	revenue := decimal.NewFromFloat(netPrice).Mul(decimal.NewFromFloat(1 - clampTax(sellerTax)))
	effCost := decimal.NewFromFloat(cost).Mul(decimal.NewFromFloat(1 + clampTax(buyerTax)))
	return revenue.Sub(effCost).Div(effCost).InexactFloat64()
}

// NetProfitPerUnit is netPrice*(1-sellerTax) - cost*(1+buyerTax) in gil.
func NetProfitPerUnit(netPrice, cost, buyerTax, sellerTax float64) float64 {
	revenue := decimal.NewFromFloat(netPrice).Mul(decimal.NewFromFloat(1 - clampTax(sellerTax)))
	effCost := decimal.NewFromFloat(cost).Mul(decimal.NewFromFloat(1 + clampTax(buyerTax)))
	return revenue.Sub(effCost).InexactFloat64()
}

// SaturationFlag reports oversupply: stock exceeding mult times the daily
// sales velocity.
func SaturationFlag(stockCount int, spd, mult float64) bool {
	return float64(stockCount) > mult*spd
}

// FlipFlag reports an abnormally cheap lowest ask versus the target
// baseline. False when no baseline is available.
func FlipFlag(lowest float64, target *float64, threshold float64) bool {
	if target == nil {
		return false
	}
	return lowest < threshold*(*target)
}
