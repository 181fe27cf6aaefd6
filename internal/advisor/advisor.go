// Package advisor converts raw market metrics into a normalized opportunity
// score and a discrete risk class, and ranks the surviving candidates.
//
// All weights and thresholds come in through config.Advice so unit tests can
// exercise arbitrary combinations; nothing here reads ambient state.
package advisor

import (
	"math"
	"sort"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/stats"
)

// Risk classes. A higher score means a lower risk; the threshold names
// (RiskLow, RiskMed) follow the score axis, not the risk axis.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// ScoreInput carries the per-item metrics feeding one score.
type ScoreInput struct {
	ROI          float64
	SalesPerDay  float64
	ProfitPerDay float64
	Competitors  int
	Saturated    bool
	Unstable     bool
}

// Score computes the weighted opportunity score in [0, ~1] and the risk
// class derived from it.
func Score(p config.Advice, in ScoreInput) (float64, string) {
	normRoi := clamp01((in.ROI + 0.5) / 1.5)
	normSpd := clamp01(in.SalesPerDay / p.SpdNorm)
	normPpd := clamp01(in.ProfitPerDay / p.PpdNorm)

	penalty := 0.0
	if in.Saturated {
		penalty += p.PenaltySaturated
	}
	if in.Unstable {
		penalty += p.PenaltyUnstable
	}
	penalty += math.Min(1, float64(in.Competitors)/10.0) * p.PenaltyComp

	score := normRoi*p.WRoi + normSpd*p.WSpd + normPpd*p.WPpd - penalty
	if score < 0 {
		score = 0
	}

	risk := RiskLow
	switch {
	case score < p.RiskLow:
		risk = RiskHigh
	case score < p.RiskMed:
		risk = RiskMedium
	}
	return score, risk
}

// Suspicious is the anti-fraud filter applied before ranking. A true result
// discards the candidate outright; it is a business-rule exclusion, not an
// error. priceCV may be nil when the window was too thin to compute it.
func Suspicious(p config.Advice, roi float64, unitsSold int64, priceCV *float64, netProfitPerUnit float64) bool {
	if roi > p.SuspectROI {
		if unitsSold < p.MinSafeSales {
			return true
		}
		if priceCV != nil && *priceCV > p.SuspectCV {
			return true
		}
	}
	if netProfitPerUnit > p.SuspectAbsProfit && unitsSold < p.MinSafeSales {
		return true
	}
	return false
}

// Baseline selects the target-price statistic feeding ROI and the score.
type Baseline struct {
	Kind string  // "avg", "median", "quantile", "trimmed"
	Q    float64 // quantile when Kind == "quantile"
	Trim float64 // trim fraction when Kind == "trimmed"
}

// Target computes the baseline over the history window. The trimmed kind
// falls back to the plain average when trimming yields nothing.
func (b Baseline) Target(history []model.Sale, days int) *float64 {
	switch b.Kind {
	case "median":
		return stats.MedianPrice(history, days)
	case "quantile":
		return stats.QuantilePrice(history, days, b.Q)
	case "trimmed":
		if t := stats.TrimmedMeanPrice(history, days, b.Trim); t != nil {
			return t
		}
		return stats.AvgPrice(history, days)
	default:
		return stats.AvgPrice(history, days)
	}
}

// Rank sorts candidates by score descending and truncates to topN. Ties
// break on item ID so repeated scans over unchanged data produce identical
// orderings.
func Rank(items []model.AdviceItem, topN int) []model.AdviceItem {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
	if topN > 0 && len(items) > topN {
		items = items[:topN]
	}
	return items
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
