package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/api"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/scan"
)

// fakeMarket serves canned snapshots keyed by (world, item).
type fakeMarket struct {
	catalog []int64
	snaps   map[string]map[int64]model.ItemSnapshot
	fail    bool
}

func (f *fakeMarket) FetchOne(_ context.Context, itemID int64, world string) (model.ItemSnapshot, error) {
	if f.fail {
		return model.ItemSnapshot{}, context.DeadlineExceeded
	}
	return f.snaps[world][itemID], nil
}

func (f *fakeMarket) FetchMany(_ context.Context, ids []int64, world string) ([]model.ItemSnapshot, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	out := make([]model.ItemSnapshot, len(ids))
	for i, id := range ids {
		out[i] = f.snaps[world][id]
	}
	return out, nil
}

func (f *fakeMarket) ListTradable(context.Context) ([]int64, error) {
	return f.catalog, nil
}

func (f *fakeMarket) RefreshTradable(context.Context) ([]int64, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return f.catalog, nil
}

// fakeNamer resolves names from a fixed table.
type fakeNamer struct {
	names map[int64]string
}

func (f *fakeNamer) ItemName(_ context.Context, id int64) (string, error) {
	return f.names[id], nil
}

func testSettings() config.Settings {
	return config.Settings{
		ScanBatchSize: 100,
		ScanTopN:      100,
		ScanWindow:    7,
		RequestsRPS:   4,
		Advice: config.Advice{
			WRoi: 0.7, WSpd: 0.5, WPpd: 0.4,
			SpdNorm: 10, PpdNorm: 50000,
			PenaltySaturated: 0.2, PenaltyUnstable: 0.2, PenaltyComp: 0.1,
			RiskLow: 0.3, RiskMed: 0.6,
			SaturationMult: 5, FlipThreshold: 0.7,
			BuyerTax: 0.05, SellerTax: 0.05,
			SuspectROI: 10, SuspectCV: 1.5, SuspectAbsProfit: 200000, MinSafeSales: 5,
		},
	}
}

func snapshot(cost, target int64, sales int) model.ItemSnapshot {
	now := time.Now().Unix()
	snap := model.ItemSnapshot{
		Listings: []model.Listing{{PricePerUnit: cost, Quantity: 1}},
	}
	for i := 0; i < sales; i++ {
		snap.History = append(snap.History, model.Sale{
			PricePerUnit: target, Quantity: 2, Timestamp: now - int64(i)*3600,
		})
	}
	return snap
}

// newTestEnv wires a Service over the in-memory store and a fake market.
func newTestEnv(t *testing.T, market *fakeMarket) (*cache.MemoryStore, *scan.Job, chi.Router) {
	t.Helper()
	ms := cache.NewMemoryStore()
	cfg := testSettings()

	names := &fakeNamer{names: map[int64]string{10: "Copper Ore", 20: "Iron Ore"}}
	job := scan.New(ms, market, names, cfg, nil)
	reader := scan.NewReader(ms, names, 0)
	svc := api.NewService(cfg, ms, market, names, job, reader, nil)

	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	r.Route("/api/v1", svc.Routes)
	return ms, job, r
}

func doRequest(t *testing.T, r chi.Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func phoenixMarket() *fakeMarket {
	return &fakeMarket{catalog: []int64{10, 20}, snaps: map[string]map[int64]model.ItemSnapshot{
		"Phoenix": {
			10: snapshot(100, 300, 8),
			20: snapshot(100, 150, 8),
		},
		"Shiva": {
			10: snapshot(80, 300, 8),
		},
	}}
}

// --- Market endpoint tests ---

func TestItemStats(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())

	w := doRequest(t, r, "GET", "/api/v1/market/item/10?world=Phoenix")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["item_id"].(float64) != 10 {
		t.Errorf("unexpected item_id: %v", body["item_id"])
	}
	if body["lowest"].(float64) != 100 {
		t.Errorf("expected lowest 100, got %v", body["lowest"])
	}
	if body["avg_price_7d"].(float64) != 300 {
		t.Errorf("expected avg 300, got %v", body["avg_price_7d"])
	}
}

func TestItemStats_RequiresWorld(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/market/item/10"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without world, got %d", w.Code)
	}
}

func TestItemStats_InvalidID(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/market/item/abc?world=Phoenix"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad id, got %d", w.Code)
	}
}

func TestItemStats_WorldWhitelist(t *testing.T) {
	ms := cache.NewMemoryStore()
	cfg := testSettings()
	cfg.AllowedWorlds = map[string]bool{"Phoenix": true}
	market := phoenixMarket()
	svc := api.NewService(cfg, ms, market, &fakeNamer{}, scan.New(ms, market, nil, cfg, nil), scan.NewReader(ms, nil, 0), nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	if w := doRequest(t, r, "GET", "/api/v1/market/item/10?world=Shiva"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a world outside the whitelist, got %d", w.Code)
	}
	if w := doRequest(t, r, "GET", "/api/v1/market/item/10?world=Phoenix"); w.Code != http.StatusOK {
		t.Errorf("expected 200 for the allowed world, got %d", w.Code)
	}
}

func TestItemStats_UnknownWorld(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/market/item/10?world=Atlantis"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a world outside the known table, got %d", w.Code)
	}
}

func TestItemStats_UpstreamFailure(t *testing.T) {
	_, _, r := newTestEnv(t, &fakeMarket{fail: true})
	if w := doRequest(t, r, "GET", "/api/v1/market/item/10?world=Phoenix"); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestItemsBatch_PreservesOrder(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())

	w := doRequest(t, r, "GET", "/api/v1/market/items?ids=20,10&world=Phoenix")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	items := body["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0].(map[string]interface{})
	if first["item_id"].(float64) != 20 {
		t.Errorf("response order must follow the ids parameter, got %v first", first["item_id"])
	}
}

func TestItemsBatch_RejectsBadIDs(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/market/items?ids=10,forty&world=Phoenix"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w := doRequest(t, r, "GET", "/api/v1/market/items?world=Phoenix"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without ids, got %d", w.Code)
	}
}

func TestArbitrage(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())

	w := doRequest(t, r, "GET", "/api/v1/market/arbitrage/10?dc=Light")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	results := body["results"].([]interface{})
	if len(results) != 2 {
		t.Fatalf("expected 2 worlds with data, got %d", len(results))
	}
	// Cheapest world first.
	cheapest := results[0].(map[string]interface{})
	if cheapest["world"].(string) != "Shiva" || cheapest["lowest"].(float64) != 80 {
		t.Errorf("expected Shiva at 80 first, got %v", cheapest)
	}
}

func TestArbitrage_UnknownDC(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/market/arbitrage/10?dc=Atlantis"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Catalog endpoint tests ---

func TestCatalogItem(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())

	w := doRequest(t, r, "GET", "/api/v1/catalog/item/10")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["name"].(string) != "Copper Ore" {
		t.Errorf("unexpected name: %v", body["name"])
	}
	if body["found"].(bool) != true {
		t.Error("expected found=true for a known item")
	}
}

func TestCatalogItem_UnknownReportsNotFound(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())

	w := doRequest(t, r, "GET", "/api/v1/catalog/item/999")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["found"].(bool) != false {
		t.Error("expected found=false for an unknown item")
	}
	if body["name"].(string) != "" {
		t.Errorf("expected empty name, got %v", body["name"])
	}
}

func TestCatalogSearch(t *testing.T) {
	ms, _, r := newTestEnv(t, phoenixMarket())
	ctx := context.Background()
	ms.SetMapField(ctx, "x:names", "10", "Copper Ore")
	ms.SetMapField(ctx, "x:names", "20", "Iron Ore")
	ms.SetMapField(ctx, "x:names", "30", "Maple Log")

	// Substring match is case-insensitive.
	w := doRequest(t, r, "GET", "/api/v1/catalog/search?q=ORE")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["count"].(float64) != 2 {
		t.Fatalf("expected 2 matches, got %v", body["count"])
	}
	items := body["items"].([]interface{})
	first := items[0].(map[string]interface{})
	if first["item_id"].(float64) != 10 {
		t.Errorf("expected item 10 first, got %v", first["item_id"])
	}
}

func TestCatalogSearch_NumericFallback(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())

	// Nothing cached yet: a numeric query still resolves via the name client.
	w := doRequest(t, r, "GET", "/api/v1/catalog/search?q=20")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 match, got %v", body["count"])
	}
	item := body["items"].([]interface{})[0].(map[string]interface{})
	if item["name"].(string) != "Iron Ore" {
		t.Errorf("unexpected name: %v", item["name"])
	}
}

func TestCatalogSearch_RequiresQuery(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/catalog/search"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without q, got %d", w.Code)
	}
}

func TestCatalogRefresh(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())

	w := doRequest(t, r, "POST", "/api/v1/catalog/refresh")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"].(string) != "refreshed" {
		t.Errorf("unexpected status: %v", body["status"])
	}
	if body["count"].(float64) != 2 {
		t.Errorf("expected 2 catalog entries, got %v", body["count"])
	}
}

// --- Advice endpoint tests ---

func TestAdvice_NotFoundBeforeScan(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/advice?world=Phoenix"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any scan, got %d", w.Code)
	}
}

func TestAdvice_AfterScan(t *testing.T) {
	_, job, r := newTestEnv(t, phoenixMarket())
	if _, err := job.Run(context.Background(), "Phoenix"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	w := doRequest(t, r, "GET", "/api/v1/advice?world=Phoenix")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["world"].(string) != "Phoenix" {
		t.Errorf("unexpected world: %v", body["world"])
	}
	if body["count"].(float64) < 1 {
		t.Error("expected at least one advice item")
	}
}

func TestAdvice_ROIFilter(t *testing.T) {
	_, job, r := newTestEnv(t, phoenixMarket())
	if _, err := job.Run(context.Background(), "Phoenix"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	all := decodeBody(t, doRequest(t, r, "GET", "/api/v1/advice?world=Phoenix"))
	filtered := decodeBody(t, doRequest(t, r, "GET", "/api/v1/advice?world=Phoenix&roi_min=1.0"))
	if filtered["count"].(float64) >= all["count"].(float64) {
		t.Errorf("roi filter should drop the thin-margin item: %v vs %v",
			filtered["count"], all["count"])
	}
	for _, raw := range filtered["items"].([]interface{}) {
		item := raw.(map[string]interface{})
		if item["roi"].(float64) < 1.0 {
			t.Errorf("item %v leaked through the roi filter", item["item_id"])
		}
	}
}

// --- Scan endpoint tests ---

func TestScanTrigger(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	w := doRequest(t, r, "POST", "/api/v1/scan?world=Phoenix")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestScanStatus(t *testing.T) {
	_, job, r := newTestEnv(t, phoenixMarket())
	if _, err := job.Run(context.Background(), "Phoenix"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	w := doRequest(t, r, "GET", "/api/v1/scan/status?world=Phoenix")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["state"].(string) != scan.StateIdle {
		t.Errorf("expected idle, got %v", body["state"])
	}
	if _, ok := body["last_published"]; !ok {
		t.Error("expected publish metadata after a completed scan")
	}
}

// --- Static data tests ---

func TestDataCenters(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	w := doRequest(t, r, "GET", "/api/v1/data/data-centers")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	dcs := body["data_centers"].([]interface{})
	if len(dcs) == 0 {
		t.Error("expected data centers")
	}
}

func TestWorldsByDC(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	w := doRequest(t, r, "GET", "/api/v1/data/worlds?data_center=Light")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	found := false
	for _, raw := range body["worlds"].([]interface{}) {
		if raw.(string) == "Phoenix" {
			found = true
		}
	}
	if !found {
		t.Error("expected Phoenix in the Light data center")
	}
}

func TestHealth(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	w := doRequest(t, r, "GET", "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"].(string) != "ok" {
		t.Errorf("unexpected status: %v", body["status"])
	}
}

// --- Export tests ---

func TestExport(t *testing.T) {
	_, job, r := newTestEnv(t, phoenixMarket())
	if _, err := job.Run(context.Background(), "Phoenix"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	w := doRequest(t, r, "GET", "/api/v1/export.xlsx?world=Phoenix")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("unexpected content type %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("expected workbook bytes")
	}
}

func TestExport_NotFoundBeforeScan(t *testing.T) {
	_, _, r := newTestEnv(t, phoenixMarket())
	if w := doRequest(t, r, "GET", "/api/v1/export.xlsx?world=Phoenix"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
