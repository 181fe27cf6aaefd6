package universalis

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
)

// The multi-item endpoint is not schema-stable: "items" can be a map keyed
// by identifier or a plain list, and individual entries spell the round-trip
// identifier under several names or omit it entirely. Entries whose
// identifier cannot be recovered are discarded rather than guessed at.

type wireItem struct {
	ItemID    *int64 `json:"itemID"`
	ItemIDAlt *int64 `json:"itemId"`
	IDUpper   *int64 `json:"ID"`
	IDLower   *int64 `json:"id"`

	Listings []model.Listing `json:"listings"`
	History  []model.Sale    `json:"recentHistory"`
}

// resolveID recovers the item identifier from whichever field carries it,
// falling back to the map key when the entry itself has none.
func (w wireItem) resolveID(fallback int64, haveFallback bool) (int64, bool) {
	for _, p := range []*int64{w.ItemID, w.ItemIDAlt, w.IDUpper, w.IDLower} {
		if p != nil && *p > 0 {
			return *p, true
		}
	}
	if haveFallback {
		return fallback, true
	}
	return 0, false
}

func (w wireItem) snapshot() model.ItemSnapshot {
	return model.ItemSnapshot{Listings: w.Listings, History: w.History}
}

// parseMulti normalizes a multi-item response body into snapshots keyed by
// recovered identifier.
func parseMulti(body []byte) (map[int64]model.ItemSnapshot, error) {
	var envelope struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Items) == 0 {
		return map[int64]model.ItemSnapshot{}, nil
	}

	out := make(map[int64]model.ItemSnapshot)

	// Map shape: {"items": {"123": {...}}}
	var asMap map[string]wireItem
	if err := json.Unmarshal(envelope.Items, &asMap); err == nil {
		for key, item := range asMap {
			keyID, keyErr := strconv.ParseInt(key, 10, 64)
			id, ok := item.resolveID(keyID, keyErr == nil)
			if !ok {
				continue
			}
			out[id] = item.snapshot()
		}
		return out, nil
	}

	// List shape: {"items": [{...}]}
	var asList []wireItem
	if err := json.Unmarshal(envelope.Items, &asList); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	for _, item := range asList {
		id, ok := item.resolveID(0, false)
		if !ok {
			continue
		}
		out[id] = item.snapshot()
	}
	return out, nil
}
