// Package api provides the HTTP handlers exposing the broker core: market
// lookups, the published advice set, scan control, and the xlsx export.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/export"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/scan"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/stats"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/worlds"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/xivapi"
)

// MarketClient is the slice of the fetch client the handlers use.
type MarketClient interface {
	FetchOne(ctx context.Context, itemID int64, world string) (model.ItemSnapshot, error)
	FetchMany(ctx context.Context, ids []int64, world string) ([]model.ItemSnapshot, error)
	RefreshTradable(ctx context.Context) ([]int64, error)
}

// Service wires the broker core behind chi handlers.
type Service struct {
	cfg    config.Settings
	store  cache.Store
	market MarketClient
	names  scan.Namer
	job    *scan.Job
	reader *scan.Reader
	hub    *Hub
}

// NewService creates the HTTP service. hub may be nil.
func NewService(cfg config.Settings, store cache.Store, market MarketClient, names scan.Namer, job *scan.Job, reader *scan.Reader, hub *Hub) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		market: market,
		names:  names,
		job:    job,
		reader: reader,
		hub:    hub,
	}
}

// Routes mounts every handler under the given router.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/market/item/{itemID}", s.ItemStats)
	r.Get("/market/item/{itemID}/raw", s.ItemRaw)
	r.Get("/market/items", s.ItemsBatch)
	r.Get("/market/arbitrage/{itemID}", s.Arbitrage)

	r.Get("/catalog/item/{itemID}", s.CatalogItem)
	r.Get("/catalog/search", s.CatalogSearch)
	r.Post("/catalog/refresh", s.CatalogRefresh)

	r.Get("/advice", s.Advice)
	r.Post("/scan", s.TriggerScan)
	r.Get("/scan/status", s.ScanStatus)
	r.Get("/export.xlsx", s.Export)

	r.Get("/data/data-centers", s.DataCenters)
	r.Get("/data/worlds", s.Worlds)
}

// --- Market handlers ---

// ItemStats handles GET /api/v1/market/item/{itemID}?world=
func (s *Service) ItemStats(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemIDParam(w, r)
	if !ok {
		return
	}
	world, ok := s.worldParam(w, r)
	if !ok {
		return
	}

	snap, err := s.market.FetchOne(r.Context(), itemID, world)
	if err != nil {
		slog.Warn("item fetch failed", "item_id", itemID, "world", world, "err", err)
		writeError(w, "market data unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, s.buildStats(itemID, world, snap))
}

// ItemRaw handles GET /api/v1/market/item/{itemID}/raw?world=
// Returns raw listings + history for charting.
func (s *Service) ItemRaw(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemIDParam(w, r)
	if !ok {
		return
	}
	world, ok := s.worldParam(w, r)
	if !ok {
		return
	}

	snap, err := s.market.FetchOne(r.Context(), itemID, world)
	if err != nil {
		writeError(w, "market data unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id":       itemID,
		"world":         world,
		"listings":      snap.Listings,
		"recentHistory": snap.History,
	})
}

// ItemsBatch handles GET /api/v1/market/items?ids=1,2,3&world=
// Response order matches the ids parameter.
func (s *Service) ItemsBatch(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldParam(w, r)
	if !ok {
		return
	}

	var ids []int64
	for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, "invalid ids parameter", http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		writeError(w, "ids parameter is required", http.StatusBadRequest)
		return
	}

	snaps, err := s.market.FetchMany(r.Context(), ids, world)
	if err != nil {
		writeError(w, "market data unavailable", http.StatusBadGateway)
		return
	}

	type batchItem struct {
		ItemID   int64           `json:"item_id"`
		Listings []model.Listing `json:"listings"`
		History  []model.Sale    `json:"recentHistory"`
	}
	items := make([]batchItem, len(ids))
	for i, snap := range snaps {
		items[i] = batchItem{ItemID: ids[i], Listings: snap.Listings, History: snap.History}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"world": world,
		"items": items,
		"count": len(items),
	})
}

// Arbitrage handles GET /api/v1/market/arbitrage/{itemID}?dc=
// Compares the lowest ask across every world of a data center.
func (s *Service) Arbitrage(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemIDParam(w, r)
	if !ok {
		return
	}
	dc := r.URL.Query().Get("dc")
	members := worlds.Worlds(dc)
	if members == nil {
		writeError(w, "unknown data center", http.StatusBadRequest)
		return
	}

	type worldPrice struct {
		World  string `json:"world"`
		Lowest int64  `json:"lowest"`
	}
	results := make([]worldPrice, 0, len(members))
	collected := make([]*worldPrice, len(members))
	maxConc := s.cfg.RequestsRPS
	if maxConc <= 0 {
		maxConc = 8
	}
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxConc)
	for i, world := range members {
		i, world := i, world
		g.Go(func() error {
			snap, err := s.market.FetchOne(gctx, itemID, world)
			if err != nil {
				slog.Warn("arbitrage world skipped", "world", world, "item_id", itemID, "err", err)
				return nil
			}
			if low, ok := snap.Lowest(); ok {
				collected[i] = &worldPrice{World: world, Lowest: low}
			}
			return nil
		})
	}
	_ = g.Wait()

	var lows []int64
	for _, wp := range collected {
		if wp != nil {
			results = append(results, *wp)
			lows = append(lows, wp.Lowest)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Lowest < results[j].Lowest })

	var median interface{}
	if len(lows) > 0 {
		sort.Slice(lows, func(i, j int) bool { return lows[i] < lows[j] })
		median = lows[len(lows)/2]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id":     itemID,
		"data_center": dc,
		"results":     results,
		"median":      median,
	})
}

// --- Catalog handlers ---

// CatalogItem handles GET /api/v1/catalog/item/{itemID}
// Resolves an item's display name. Unknown items report found=false
// rather than an error.
func (s *Service) CatalogItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemIDParam(w, r)
	if !ok {
		return
	}

	name, err := s.names.ItemName(r.Context(), itemID)
	if err != nil {
		slog.Warn("name lookup failed", "item_id", itemID, "err", err)
		writeError(w, "catalog unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id": itemID,
		"name":    name,
		"found":   name != "",
	})
}

// CatalogSearch handles GET /api/v1/catalog/search?q=&limit=
// Case-insensitive substring match over the cached name table. A numeric
// query additionally resolves that identifier directly, so searching by id
// works even before the table is warm.
func (s *Service) CatalogSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, "q parameter is required", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 {
		limit = 1
	}

	type catalogItem struct {
		ItemID int64  `json:"item_id"`
		Name   string `json:"name"`
	}
	items := []catalogItem{}
	seen := map[int64]bool{}

	needle := strings.ToLower(q)
	known, err := s.store.GetMap(r.Context(), xivapi.NamesKey)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		writeError(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}
	for field, name := range known {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(name), needle) {
			items = append(items, catalogItem{ItemID: id, Name: name})
			seen[id] = true
		}
	}

	if id, err := strconv.ParseInt(q, 10, 64); err == nil && id > 0 && !seen[id] {
		if name, err := s.names.ItemName(r.Context(), id); err == nil && name != "" {
			items = append(items, catalogItem{ItemID: id, Name: name})
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	if len(items) > limit {
		items = items[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}

// CatalogRefresh handles POST /api/v1/catalog/refresh
// Drops the cached tradable universe and re-fetches it upstream.
func (s *Service) CatalogRefresh(w http.ResponseWriter, r *http.Request) {
	ids, err := s.market.RefreshTradable(r.Context())
	if err != nil {
		slog.Error("catalog refresh failed", "err", err)
		writeError(w, "catalog refresh failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "refreshed",
		"count":  len(ids),
	})
}

// --- Advice handlers ---

// Advice handles GET /api/v1/advice?world=&limit=&roi_min=
// Serves the published ranked set; it never triggers fetches beyond the
// lazy name backfill.
func (s *Service) Advice(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldParam(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > s.cfg.ScanTopN {
		limit = s.cfg.ScanTopN
	}
	roiMin := queryFloat(r, "roi_min", 0)

	set, err := s.reader.Top(r.Context(), world, limit)
	if err != nil {
		if errors.Is(err, scan.ErrNoAdvice) {
			writeError(w, "no advice published for world", http.StatusNotFound)
			return
		}
		writeError(w, "advice unavailable", http.StatusInternalServerError)
		return
	}

	items := set.Items
	if roiMin > 0 {
		filtered := items[:0]
		for _, it := range items {
			if it.ROI >= roiMin {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"world":        set.World,
		"items":        items,
		"count":        len(items),
		"generated_at": set.GeneratedAt,
		"scanned":      set.Scanned,
	})
}

// TriggerScan handles POST /api/v1/scan?world=
// Starts a full scan in the background; 409 when one is already running.
func (s *Service) TriggerScan(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldParam(w, r)
	if !ok {
		return
	}
	if s.job.State() != scan.StateIdle {
		writeError(w, "scan already running", http.StatusConflict)
		return
	}

	go func() {
		// Detached from the request context: the scan outlives the trigger.
		if _, err := s.job.Run(context.Background(), world); err != nil && !errors.Is(err, scan.ErrBusy) {
			slog.Error("scan failed", "world", world, "err", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"world":  world,
	})
}

// ScanStatus handles GET /api/v1/scan/status?world=
func (s *Service) ScanStatus(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldParam(w, r)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"state": s.job.State(),
		"world": world,
	}
	if ts, count, err := s.reader.Meta(r.Context(), world); err == nil {
		resp["last_published"] = ts
		resp["last_scanned"] = count
	}
	writeJSON(w, http.StatusOK, resp)
}

// Export handles GET /api/v1/export.xlsx?world=&limit=
// Builds the workbook from the published advice plus fresh item stats for
// the exported rows.
func (s *Service) Export(w http.ResponseWriter, r *http.Request) {
	world, ok := s.worldParam(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)

	set, err := s.reader.Top(r.Context(), world, limit)
	if err != nil {
		if errors.Is(err, scan.ErrNoAdvice) {
			writeError(w, "no advice published for world", http.StatusNotFound)
			return
		}
		writeError(w, "advice unavailable", http.StatusInternalServerError)
		return
	}

	ids := make([]int64, len(set.Items))
	for i, it := range set.Items {
		ids[i] = it.ItemID
	}
	var itemStats []model.ItemStats
	if len(ids) > 0 {
		snaps, err := s.market.FetchMany(r.Context(), ids, world)
		if err == nil {
			for i, snap := range snaps {
				itemStats = append(itemStats, s.buildStats(ids[i], world, snap))
			}
		}
	}

	f, err := export.BuildWorkbook(itemStats, set.Items, world)
	if err != nil {
		writeError(w, "export failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="broker-%s.xlsx"`, world))
	if err := f.Write(w); err != nil {
		slog.Error("export write failed", "world", world, "err", err)
	}
}

// --- Static data handlers ---

// DataCenters handles GET /api/v1/data/data-centers
func (s *Service) DataCenters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"data_centers": worlds.Names()})
}

// Worlds handles GET /api/v1/data/worlds?data_center=
func (s *Service) Worlds(w http.ResponseWriter, r *http.Request) {
	dc := r.URL.Query().Get("data_center")
	if dc != "" {
		if members := worlds.Worlds(dc); members != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"worlds": members})
			return
		}
	}

	all := worlds.All()
	if s.cfg.AllowedWorlds != nil {
		var filtered []string
		for _, name := range all {
			if s.cfg.AllowedWorlds[name] {
				filtered = append(filtered, name)
			}
		}
		all = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"worlds": all})
}

// Health handles GET /health.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.store.Ping(r.Context()) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "service": "ffxiv-broker"})
}

// --- Helpers ---

func (s *Service) buildStats(itemID int64, world string, snap model.ItemSnapshot) model.ItemStats {
	days := s.cfg.ScanWindow
	avg := stats.AvgPrice(snap.History, days)
	spd := stats.SalesPerDay(snap.History, days)

	st := model.ItemStats{
		ItemID:        itemID,
		World:         world,
		AvgPrice7d:    avg,
		SalesPerDay7d: spd,
		Flags:         []string{},
	}
	if low, ok := snap.Lowest(); ok {
		st.Lowest = &low
		if stats.SaturationFlag(len(snap.Listings), spd, s.cfg.Advice.SaturationMult) {
			st.Flags = append(st.Flags, model.FlagSaturated)
		}
		if stats.FlipFlag(float64(low), avg, s.cfg.Advice.FlipThreshold) {
			st.Flags = append(st.Flags, model.FlagFlip)
		}
	}
	return st
}

func (s *Service) itemIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Service) worldParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	world := r.URL.Query().Get("world")
	if world == "" {
		writeError(w, "world parameter is required", http.StatusBadRequest)
		return "", false
	}
	if !worlds.Known(world) || !s.cfg.WorldAllowed(world) {
		writeError(w, "world not allowed", http.StatusBadRequest)
		return "", false
	}
	return world, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
