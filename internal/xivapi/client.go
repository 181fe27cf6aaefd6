// Package xivapi resolves item display names through the catalog provider,
// with a search-endpoint fallback and a final Garland Tools fallback before
// giving up. Resolved names are persisted in the x:names hash so the catalog
// fills in lazily over time.
package xivapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/metrics"
)

// NamesKey is the persistent id→name hash.
const NamesKey = "x:names"

const garlandBase = "https://www.garlandtools.org/api/get.php"

// Client resolves item names.
type Client struct {
	http    *resty.Client
	garland *resty.Client
	store   cache.Store
	ttlLong time.Duration
}

// New builds a naming client with the same retry transport as the market
// client.
func New(cfg config.Settings, store cache.Store) *Client {
	hc := resty.New().
		SetBaseURL(cfg.XIVAPIBase).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRetryCount(cfg.RetryMax).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Client{
		http:    hc,
		garland: resty.New().SetTimeout(cfg.HTTPTimeout).SetHeader("User-Agent", cfg.UserAgent),
		store:   store,
		ttlLong: cfg.CacheTTLLong,
	}
}

func nameKey(itemID int64) string {
	return cache.Key("x", "name", strconv.FormatInt(itemID, 10))
}

// ItemName resolves the display name for an item. An unknown item is a
// normal empty result ("", nil), not an error.
func (c *Client) ItemName(ctx context.Context, itemID int64) (string, error) {
	field := strconv.FormatInt(itemID, 10)

	// 1) Persistent catalog hash.
	if names, err := c.store.GetMap(ctx, NamesKey); err == nil {
		if name, ok := names[field]; ok && name != "" {
			return name, nil
		}
	}

	// 2) Per-item cached value.
	if raw, err := c.store.Get(ctx, nameKey(itemID)); err == nil && raw != "" {
		return raw, nil
	}

	// 3) Catalog provider, then fallbacks.
	name, err := c.fetchName(ctx, itemID)
	if err != nil {
		if garland, gerr := c.garlandName(ctx, itemID); gerr == nil && garland != "" {
			c.remember(ctx, itemID, garland)
			return garland, nil
		}
		return "", err
	}
	if name != "" {
		c.remember(ctx, itemID, name)
	}
	return name, nil
}

func (c *Client) fetchName(ctx context.Context, itemID int64) (string, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"columns": "ID,Name", "language": "en"}).
		Get(fmt.Sprintf("/item/%d", itemID))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("xivapi", "error").Inc()
		return "", fmt.Errorf("xivapi: item %d: %w", itemID, err)
	}
	metrics.UpstreamRequests.WithLabelValues("xivapi", strconv.Itoa(resp.StatusCode())).Inc()

	switch {
	case resp.StatusCode() == 404:
		// Unknown to the item endpoint; the search index sometimes still
		// knows it.
		return c.searchName(ctx, itemID)
	case resp.StatusCode() != 200:
		return "", fmt.Errorf("xivapi: item %d: status %d", itemID, resp.StatusCode())
	}

	var body struct {
		Name string `json:"Name"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("xivapi: item %d: decode: %w", itemID, err)
	}
	return body.Name, nil
}

func (c *Client) searchName(ctx context.Context, itemID int64) (string, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"indexes":  "item",
			"filters":  fmt.Sprintf("ID=%d", itemID),
			"columns":  "Results.ID,Results.Name",
			"language": "en",
		}).
		Get("/search")
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("xivapi", "error").Inc()
		return "", fmt.Errorf("xivapi: search %d: %w", itemID, err)
	}
	metrics.UpstreamRequests.WithLabelValues("xivapi", strconv.Itoa(resp.StatusCode())).Inc()
	if resp.StatusCode() == 404 {
		return "", nil
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("xivapi: search %d: status %d", itemID, resp.StatusCode())
	}

	var body struct {
		Results []struct {
			Name string `json:"Name"`
		} `json:"Results"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("xivapi: search %d: decode: %w", itemID, err)
	}
	if len(body.Results) == 0 {
		return "", nil
	}
	return body.Results[0].Name, nil
}

func (c *Client) garlandName(ctx context.Context, itemID int64) (string, error) {
	resp, err := c.garland.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"type": "item",
			"id":   strconv.FormatInt(itemID, 10),
			"lang": "en",
		}).
		Get(garlandBase)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("garland", "error").Inc()
		return "", err
	}
	metrics.UpstreamRequests.WithLabelValues("garland", strconv.Itoa(resp.StatusCode())).Inc()
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("garland: item %d: status %d", itemID, resp.StatusCode())
	}

	var body struct {
		Item struct {
			Name string `json:"name"`
			En   string `json:"en"`
		} `json:"item"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", err
	}
	if body.Item.Name != "" {
		return body.Item.Name, nil
	}
	return body.Item.En, nil
}

// remember persists a resolved name in both the per-item key and the catalog
// hash. Best-effort.
func (c *Client) remember(ctx context.Context, itemID int64, name string) {
	if err := c.store.Set(ctx, nameKey(itemID), name, c.ttlLong); err != nil {
		slog.Warn("cache write failed", "key", nameKey(itemID), "err", err)
	}
	if err := c.store.SetMapField(ctx, NamesKey, strconv.FormatInt(itemID, 10), name); err != nil {
		slog.Warn("cache write failed", "key", NamesKey, "err", err)
	}
}
