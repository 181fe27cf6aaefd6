// Package scan drives the full-catalog market scan for one world: fetch in
// batches, compute metrics and scores, filter suspect candidates, rank the
// survivors, and publish the result atomically.
//
// Publishing is staged: the ranked index and the data map are written to
// temporary keys and renamed over the live keys in one step. A crash at any
// point before the rename leaves the previously published set fully
// readable; an empty scan never clobbers a previous good result.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/advisor"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/metrics"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/stats"
)

// ErrBusy is returned when a scan for any world is already in flight.
var ErrBusy = errors.New("scan: already running")

// Job states.
const (
	StateIdle       = "idle"
	StateScanning   = "scanning"
	StatePublishing = "publishing"
)

// MarketClient is the slice of the fetch client the job needs.
type MarketClient interface {
	FetchMany(ctx context.Context, ids []int64, world string) ([]model.ItemSnapshot, error)
	ListTradable(ctx context.Context) ([]int64, error)
}

// Namer resolves item display names. Used by the reader for lazy backfill.
type Namer interface {
	ItemName(ctx context.Context, itemID int64) (string, error)
}

// Event is a progress notification emitted during a run.
type Event struct {
	Type      string `json:"type"` // scan_state, scan_progress
	World     string `json:"world"`
	RunID     string `json:"run_id"`
	State     string `json:"state,omitempty"`
	Processed int    `json:"processed,omitempty"`
	Total     int    `json:"total,omitempty"`
	Kept      int    `json:"kept,omitempty"`
}

// Result summarizes a completed run.
type Result struct {
	RunID     string        `json:"run_id"`
	World     string        `json:"world"`
	Scanned   int           `json:"scanned"`
	Kept      int           `json:"kept"`
	Published bool          `json:"published"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Job is the full-scan orchestrator. One scan runs at a time; a second
// trigger while one is in flight gets ErrBusy.
type Job struct {
	store  cache.Store
	market MarketClient
	names  Namer
	cfg    config.Settings
	notify func(Event) // optional; nil disables notifications

	mu    sync.Mutex
	state string
}

// New creates a scan job. notify may be nil.
func New(store cache.Store, market MarketClient, names Namer, cfg config.Settings, notify func(Event)) *Job {
	return &Job{
		store:  store,
		market: market,
		names:  names,
		cfg:    cfg,
		notify: notify,
		state:  StateIdle,
	}
}

// State returns the current job state.
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(world, runID, state string) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
	j.emit(Event{Type: "scan_state", World: world, RunID: runID, State: state})
}

func (j *Job) emit(e Event) {
	if j.notify != nil {
		j.notify(e)
	}
}

// Cache keys for the published advice set of one world.
func scoreKey(world string) string { return cache.Key("adv", world, "score") }
func dataKey(world string) string  { return cache.Key("adv", world, "data") }
func tsKey(world string) string    { return cache.Key("adv", world, "ts") }
func countKey(world string) string { return cache.Key("adv", world, "count") }

const tmpSuffix = ":tmp"

// scoreEntry is one row of the ordered score index.
type scoreEntry struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
}

// Run executes a full scan for world. Per-item failures are skipped; only
// store-level failures or an unreadable catalog fail the run.
func (j *Job) Run(ctx context.Context, world string) (Result, error) {
	j.mu.Lock()
	if j.state != StateIdle {
		j.mu.Unlock()
		return Result{}, ErrBusy
	}
	j.state = StateScanning
	j.mu.Unlock()

	runID := uuid.New().String()
	start := time.Now()
	defer func() {
		j.setState(world, runID, StateIdle)
		metrics.ScanDuration.WithLabelValues(world).Observe(time.Since(start).Seconds())
	}()

	j.emit(Event{Type: "scan_state", World: world, RunID: runID, State: StateScanning})
	slog.Info("scan started", "run_id", runID, "world", world)

	ids, err := j.market.ListTradable(ctx)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("failed").Inc()
		return Result{}, fmt.Errorf("scan: catalog: %w", err)
	}

	var candidates []model.AdviceItem
	batch := j.cfg.ScanBatchSize
	if batch <= 0 {
		batch = 100
	}

	for off := 0; off < len(ids); off += batch {
		end := off + batch
		if end > len(ids) {
			end = len(ids)
		}
		snaps, err := j.market.FetchMany(ctx, ids[off:end], world)
		if err != nil {
			// FetchMany degrades internally; an error here means the whole
			// batch was unusable. Skip it, keep scanning.
			slog.Warn("scan batch skipped", "run_id", runID, "offset", off, "err", err)
			continue
		}
		for i, snap := range snaps {
			if cand, ok := j.evaluate(ids[off+i], snap); ok {
				candidates = append(candidates, cand)
			}
		}
		j.emit(Event{Type: "scan_progress", World: world, RunID: runID,
			Processed: end, Total: len(ids), Kept: len(candidates)})
	}

	ranked := advisor.Rank(candidates, j.cfg.ScanTopN)

	j.setState(world, runID, StatePublishing)
	published, err := j.publish(ctx, world, ranked, len(ids))
	if err != nil {
		metrics.ScansTotal.WithLabelValues("failed").Inc()
		return Result{}, fmt.Errorf("scan: publish: %w", err)
	}

	result := Result{
		RunID:     runID,
		World:     world,
		Scanned:   len(ids),
		Kept:      len(ranked),
		Published: published,
		Elapsed:   time.Since(start),
	}
	if published {
		metrics.ScansTotal.WithLabelValues("published").Inc()
	} else {
		metrics.ScansTotal.WithLabelValues("empty").Inc()
	}
	slog.Info("scan finished", "run_id", runID, "world", world,
		"scanned", result.Scanned, "kept", result.Kept,
		"published", published, "elapsed", result.Elapsed.Round(time.Millisecond))
	return result, nil
}

// evaluate turns one snapshot into an advice candidate, or rejects it.
func (j *Job) evaluate(itemID int64, snap model.ItemSnapshot) (model.AdviceItem, bool) {
	if snap.Empty() {
		metrics.ScanItems.WithLabelValues("empty").Inc()
		return model.AdviceItem{}, false
	}
	lowest, ok := snap.Lowest()
	if !ok {
		metrics.ScanItems.WithLabelValues("empty").Inc()
		return model.AdviceItem{}, false
	}

	p := j.cfg.Advice
	days := j.cfg.ScanWindow

	// Trimmed mean resists price manipulation better than the plain average
	// on the full-scan path.
	baseline := advisor.Baseline{Kind: "trimmed", Trim: 0.1}
	target := baseline.Target(snap.History, days)
	if target == nil {
		metrics.ScanItems.WithLabelValues("skipped").Inc()
		return model.AdviceItem{}, false
	}

	spd := stats.SalesPerDay(snap.History, days)
	sold := stats.UnitsSold(snap.History, days)
	cv := stats.PriceCV(snap.History, days)

	roi := stats.ROI(*target, float64(lowest), p.BuyerTax, p.SellerTax)
	profitUnit := stats.NetProfitPerUnit(*target, float64(lowest), p.BuyerTax, p.SellerTax)
	profitDay := profitUnit * spd

	if advisor.Suspicious(p, roi, sold, cv, profitUnit) {
		metrics.ScanItems.WithLabelValues("suspect").Inc()
		return model.AdviceItem{}, false
	}

	var stock int64
	for _, l := range snap.Listings {
		stock += l.Quantity
	}
	saturated := stats.SaturationFlag(int(stock), spd, p.SaturationMult)
	unstable := cv != nil && *cv > p.SuspectCV
	flip := stats.FlipFlag(float64(lowest), target, p.FlipThreshold)

	var flags []string
	if saturated {
		flags = append(flags, model.FlagSaturated)
	}
	if unstable {
		flags = append(flags, model.FlagUnstable)
	}
	if flip {
		flags = append(flags, model.FlagFlip)
	}

	score, risk := advisor.Score(p, advisor.ScoreInput{
		ROI:          roi,
		SalesPerDay:  spd,
		ProfitPerDay: profitDay,
		Competitors:  len(snap.Listings),
		Saturated:    saturated,
		Unstable:     unstable,
	})

	metrics.ScanItems.WithLabelValues("kept").Inc()
	return model.AdviceItem{
		ItemID:        itemID,
		TargetPrice:   *target,
		Cost:          lowest,
		ROI:           roi,
		SalesPerDay:   spd,
		ProfitPerUnit: profitUnit,
		ProfitPerDay:  profitDay,
		Competitors:   len(snap.Listings),
		Flags:         flags,
		Score:         score,
		Risk:          risk,
	}, true
}

// publish stages the ranked set under temporary keys and renames them over
// the live keys. Reports whether a new generation went live.
func (j *Job) publish(ctx context.Context, world string, ranked []model.AdviceItem, scanned int) (bool, error) {
	if len(ranked) == 0 {
		slog.Warn("scan produced no candidates, keeping previous result", "world", world)
		return false, nil
	}

	index := make([]scoreEntry, len(ranked))
	data := make(map[string]string, len(ranked))
	for i, item := range ranked {
		index[i] = scoreEntry{ItemID: item.ItemID, Score: item.Score}
		raw, err := json.Marshal(item)
		if err != nil {
			return false, err
		}
		data[fmt.Sprintf("%d", item.ItemID)] = string(raw)
	}

	rawIndex, err := json.Marshal(index)
	if err != nil {
		return false, err
	}
	rawData, err := json.Marshal(data)
	if err != nil {
		return false, err
	}

	if err := j.store.Set(ctx, scoreKey(world)+tmpSuffix, string(rawIndex), 0); err != nil {
		return false, err
	}
	if err := j.store.Set(ctx, dataKey(world)+tmpSuffix, string(rawData), 0); err != nil {
		return false, err
	}

	// Atomic swap: both halves go live in one step, so readers can never
	// pair an old score index with a new data map. A half-written staging
	// area is a no-op and leaves the previous generation untouched.
	ok, err := j.store.RenamePair(ctx,
		scoreKey(world)+tmpSuffix, scoreKey(world),
		dataKey(world)+tmpSuffix, dataKey(world))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := j.store.Set(ctx, tsKey(world), fmt.Sprintf("%d", time.Now().Unix()), 0); err != nil {
		return false, err
	}
	if err := j.store.Set(ctx, countKey(world), fmt.Sprintf("%d", scanned), 0); err != nil {
		return false, err
	}
	return true, nil
}
