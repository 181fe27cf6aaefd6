// Package model defines the core domain types shared across the broker.
// Prices are gil amounts carried as int64; derived ratios (ROI, score) are
// float64 and only ever produced by the stats/advisor packages.
package model

import "time"

// Listing is an open sell offer on the market board. Field names follow the
// Universalis wire format. Immutable once parsed.
type Listing struct {
	PricePerUnit int64 `json:"pricePerUnit"`
	Quantity     int64 `json:"quantity"`
	HQ           bool  `json:"hq"`
}

// Sale is a completed historical sale. Timestamp is unix epoch seconds.
type Sale struct {
	PricePerUnit int64 `json:"pricePerUnit"`
	Quantity     int64 `json:"quantity"`
	Timestamp    int64 `json:"timestamp"`
	HQ           bool  `json:"hq"`
}

// ItemSnapshot is the market state of one (item, world) pair: current
// listings plus the recent sale history window.
type ItemSnapshot struct {
	Listings []Listing `json:"listings"`
	History  []Sale    `json:"recentHistory"`
}

// Lowest returns the cheapest listing price, or false when there are no
// listings.
func (s ItemSnapshot) Lowest() (int64, bool) {
	if len(s.Listings) == 0 {
		return 0, false
	}
	low := s.Listings[0].PricePerUnit
	for _, l := range s.Listings[1:] {
		if l.PricePerUnit < low {
			low = l.PricePerUnit
		}
	}
	return low, true
}

// Empty reports whether the snapshot carries no market data at all.
func (s ItemSnapshot) Empty() bool {
	return len(s.Listings) == 0 && len(s.History) == 0
}

// ItemStats is the per-item summary served by the market endpoints.
type ItemStats struct {
	ItemID        int64    `json:"item_id"`
	World         string   `json:"world"`
	Lowest        *int64   `json:"lowest"`
	AvgPrice7d    *float64 `json:"avg_price_7d"`
	SalesPerDay7d float64  `json:"sales_per_day_7d"`
	Flags         []string `json:"flags"`
}

// Flag names attached to stats and advice entries. Retained verbatim from the
// advisor's original vocabulary.
const (
	FlagSaturated = "saturo"
	FlagUnstable  = "instabile"
	FlagFlip      = "flip"
)

// AdviceItem is one ranked arbitrage candidate. Created once per scan pass
// and never mutated afterwards; rankers only sort and truncate.
type AdviceItem struct {
	ItemID        int64    `json:"item_id"`
	Name          *string  `json:"name"`
	TargetPrice   float64  `json:"target_price"`
	Cost          int64    `json:"cost"`
	ROI           float64  `json:"roi"`
	SalesPerDay   float64  `json:"sales_per_day"`
	ProfitPerUnit float64  `json:"profit_per_unit"`
	ProfitPerDay  float64  `json:"profit_per_day"`
	Competitors   int      `json:"competitors"`
	Flags         []string `json:"flags"`
	Score         float64  `json:"score"`
	Risk          string   `json:"risk"`
}

// HasFlag reports whether the candidate carries the given flag.
func (a AdviceItem) HasFlag(name string) bool {
	for _, f := range a.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// AdviceSet is the published result of one full scan for a world.
type AdviceSet struct {
	World       string       `json:"world"`
	Items       []AdviceItem `json:"items"`
	GeneratedAt time.Time    `json:"generated_at"`
	Scanned     int          `json:"scanned"`
}
