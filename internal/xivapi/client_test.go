package xivapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
)

func testConfig(baseURL string) config.Settings {
	return config.Settings{
		XIVAPIBase:   baseURL,
		UserAgent:    "test-agent",
		HTTPTimeout:  5 * time.Second,
		RetryMax:     0,
		CacheTTLLong: 12 * time.Hour,
	}
}

func TestItemName_HashHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called on a hash hit")
	}))
	defer srv.Close()

	ms := cache.NewMemoryStore()
	ctx := context.Background()
	ms.SetMapField(ctx, NamesKey, "5", "Copper Ore")

	c := New(testConfig(srv.URL), ms)
	name, err := c.ItemName(ctx, 5)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if name != "Copper Ore" {
		t.Errorf("expected Copper Ore, got %q", name)
	}
}

func TestItemName_FetchAndRemember(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"ID": 5, "Name": "Copper Ore"}`)
	}))
	defer srv.Close()

	ms := cache.NewMemoryStore()
	c := New(testConfig(srv.URL), ms)
	ctx := context.Background()

	name, err := c.ItemName(ctx, 5)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if name != "Copper Ore" {
		t.Errorf("expected Copper Ore, got %q", name)
	}

	// Resolved name lands in the catalog hash.
	names, _ := ms.GetMap(ctx, NamesKey)
	if names["5"] != "Copper Ore" {
		t.Errorf("expected hash entry, got %v", names)
	}

	// Second lookup is served from the cache.
	if _, err := c.ItemName(ctx, 5); err != nil {
		t.Fatalf("cached lookup failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestItemName_SearchFallbackOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/item/99":
			w.WriteHeader(http.StatusNotFound)
		case "/search":
			fmt.Fprint(w, `{"Results": [{"ID": 99, "Name": "Rare Thing"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), cache.NewMemoryStore())
	name, err := c.ItemName(context.Background(), 99)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if name != "Rare Thing" {
		t.Errorf("expected Rare Thing, got %q", name)
	}
}

func TestItemName_UnknownItemIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/item/7":
			w.WriteHeader(http.StatusNotFound)
		case "/search":
			fmt.Fprint(w, `{"Results": []}`)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), cache.NewMemoryStore())
	name, err := c.ItemName(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected typed empty result, got error: %v", err)
	}
	if name != "" {
		t.Errorf("expected empty name, got %q", name)
	}
}
