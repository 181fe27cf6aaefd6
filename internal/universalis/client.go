// Package universalis is the market-data provider client. It is cache-aside:
// reads check the store first, fetches populate it, and cache-write failures
// never prevent returning data that was already fetched.
package universalis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/metrics"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
)

// ChunkSize is the provider's multi-item request limit.
const ChunkSize = 100

// MarketableKey is the persistent cache key for the tradable-ID universe.
const MarketableKey = "u:marketable"

// Client fetches market snapshots from Universalis.
type Client struct {
	http     *resty.Client
	store    cache.Store
	ttlShort time.Duration
	ttlLong  time.Duration
	maxConc  int
}

// New builds a client. Retries with exponential backoff are handled by the
// transport: timeouts, connection failures and 5xx/429 are retried up to
// RetryMax attempts; other statuses and malformed payloads are not.
func New(cfg config.Settings, store cache.Store) *Client {
	hc := resty.New().
		SetBaseURL(cfg.UniversalisBase).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryMax).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	maxConc := cfg.RequestsRPS
	if maxConc <= 0 {
		// errgroup.SetLimit(0) would block every fallback fetch forever.
		maxConc = 8
	}

	return &Client{
		http:     hc,
		store:    store,
		ttlShort: cfg.CacheTTLShort,
		ttlLong:  cfg.CacheTTLLong,
		maxConc:  maxConc,
	}
}

func listingsKey(world string, id int64) string {
	return cache.Key("u", world, strconv.FormatInt(id, 10), "listings")
}

func historyKey(world string, id int64) string {
	return cache.Key("u", world, strconv.FormatInt(id, 10), "history")
}

// FetchOne returns the market snapshot for one item, reading the cache first
// and hitting the provider only when either half is missing.
func (c *Client) FetchOne(ctx context.Context, itemID int64, world string) (model.ItemSnapshot, error) {
	if snap, ok := c.cached(ctx, itemID, world); ok {
		metrics.CacheHits.Inc()
		return snap, nil
	}
	metrics.CacheMisses.Inc()

	resp, err := c.http.R().SetContext(ctx).
		Get(fmt.Sprintf("/v2/%s/%d", world, itemID))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("universalis", "error").Inc()
		return model.ItemSnapshot{}, fmt.Errorf("universalis: item %d world %s: %w", itemID, world, err)
	}
	metrics.UpstreamRequests.WithLabelValues("universalis", strconv.Itoa(resp.StatusCode())).Inc()
	if resp.StatusCode() != 200 {
		return model.ItemSnapshot{}, fmt.Errorf("universalis: item %d world %s: status %d", itemID, world, resp.StatusCode())
	}

	var snap model.ItemSnapshot
	if err := json.Unmarshal(resp.Body(), &snap); err != nil {
		return model.ItemSnapshot{}, fmt.Errorf("universalis: item %d world %s: decode: %w", itemID, world, err)
	}

	c.storeSnapshot(ctx, itemID, world, snap)
	slog.Debug("universalis item fetched",
		"world", world, "item_id", itemID,
		"listings", len(snap.Listings), "history", len(snap.History))
	return snap, nil
}

// FetchMany batch-fetches snapshots for a list of items. The result always
// has the same length and order as ids: slot assignment is by identifier,
// never by arrival order. Items absent from the provider response keep an
// empty snapshot. When a whole chunk request fails the chunk degrades to
// per-item FetchOne calls so a partial outage does not fail the batch.
func (c *Client) FetchMany(ctx context.Context, ids []int64, world string) ([]model.ItemSnapshot, error) {
	out := make([]model.ItemSnapshot, len(ids))
	slot := make(map[int64]int, len(ids))
	for i, id := range ids {
		slot[id] = i
	}

	for start := 0; start < len(ids); start += ChunkSize {
		end := start + ChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		entries, err := c.fetchChunk(ctx, chunk, world)
		if err != nil {
			slog.Warn("universalis batch failed, falling back to single fetches",
				"world", world, "chunk", len(chunk), "err", err)
			c.fallbackChunk(ctx, chunk, world, out, slot)
			continue
		}

		for id, snap := range entries {
			i, ok := slot[id]
			if !ok {
				continue // identifier outside the requested set
			}
			out[i] = snap
			c.storeSnapshot(ctx, id, world, snap)
		}
	}
	return out, nil
}

// ListTradable returns the full tradable-item universe. Cached persistently
// until explicitly refreshed.
func (c *Client) ListTradable(ctx context.Context) ([]int64, error) {
	if raw, err := c.store.Get(ctx, MarketableKey); err == nil {
		var ids []int64
		if json.Unmarshal([]byte(raw), &ids) == nil {
			return ids, nil
		}
	}

	resp, err := c.http.R().SetContext(ctx).Get("/marketable")
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("universalis", "error").Inc()
		return nil, fmt.Errorf("universalis: marketable: %w", err)
	}
	metrics.UpstreamRequests.WithLabelValues("universalis", strconv.Itoa(resp.StatusCode())).Inc()
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("universalis: marketable: status %d", resp.StatusCode())
	}

	var ids []int64
	if err := json.Unmarshal(resp.Body(), &ids); err != nil {
		return nil, fmt.Errorf("universalis: marketable: decode: %w", err)
	}

	if raw, err := json.Marshal(ids); err == nil {
		if err := c.store.Set(ctx, MarketableKey, string(raw), 0); err != nil {
			slog.Warn("cache write failed", "key", MarketableKey, "err", err)
		}
	}
	return ids, nil
}

// RefreshTradable drops the cached universe and re-fetches it.
func (c *Client) RefreshTradable(ctx context.Context) ([]int64, error) {
	_ = c.store.Set(ctx, MarketableKey, "", time.Second)
	return c.ListTradable(ctx)
}

// cached returns the snapshot only when both halves are present; a single
// stale half forces a refetch of both.
func (c *Client) cached(ctx context.Context, itemID int64, world string) (model.ItemSnapshot, bool) {
	rawListings, err := c.store.Get(ctx, listingsKey(world, itemID))
	if err != nil {
		return model.ItemSnapshot{}, false
	}
	rawHistory, err := c.store.Get(ctx, historyKey(world, itemID))
	if err != nil {
		return model.ItemSnapshot{}, false
	}

	var snap model.ItemSnapshot
	if json.Unmarshal([]byte(rawListings), &snap.Listings) != nil {
		return model.ItemSnapshot{}, false
	}
	if json.Unmarshal([]byte(rawHistory), &snap.History) != nil {
		return model.ItemSnapshot{}, false
	}
	return snap, true
}

// storeSnapshot writes both halves under their own TTLs. Best-effort: a
// failed write is logged and the snapshot is still returned to the caller.
func (c *Client) storeSnapshot(ctx context.Context, itemID int64, world string, snap model.ItemSnapshot) {
	listings := snap.Listings
	if listings == nil {
		listings = []model.Listing{}
	}
	history := snap.History
	if history == nil {
		history = []model.Sale{}
	}

	if raw, err := json.Marshal(listings); err == nil {
		if err := c.store.Set(ctx, listingsKey(world, itemID), string(raw), c.ttlShort); err != nil {
			slog.Warn("cache write failed", "key", listingsKey(world, itemID), "err", err)
		}
	}
	if raw, err := json.Marshal(history); err == nil {
		if err := c.store.Set(ctx, historyKey(world, itemID), string(raw), c.ttlLong); err != nil {
			slog.Warn("cache write failed", "key", historyKey(world, itemID), "err", err)
		}
	}
}

// fetchChunk issues one multi-item request and returns the parsed entries
// keyed by resolved identifier.
func (c *Client) fetchChunk(ctx context.Context, ids []int64, world string) (map[int64]model.ItemSnapshot, error) {
	csv := make([]string, len(ids))
	for i, id := range ids {
		csv[i] = strconv.FormatInt(id, 10)
	}

	resp, err := c.http.R().SetContext(ctx).
		Get(fmt.Sprintf("/v2/%s/%s", world, strings.Join(csv, ",")))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("universalis", "error").Inc()
		return nil, err
	}
	metrics.UpstreamRequests.WithLabelValues("universalis", strconv.Itoa(resp.StatusCode())).Inc()
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}

	return parseMulti(resp.Body())
}

// fallbackChunk degrades a failed batch to bounded per-item fetches.
// Individual failures are skipped; siblings keep running.
func (c *Client) fallbackChunk(ctx context.Context, ids []int64, world string, out []model.ItemSnapshot, slot map[int64]int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConc)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			snap, err := c.FetchOne(gctx, id, world)
			if err != nil {
				slog.Warn("item fetch skipped", "world", world, "item_id", id, "err", err)
				return nil
			}
			out[slot[id]] = snap
			return nil
		})
	}
	_ = g.Wait()
}
