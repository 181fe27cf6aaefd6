package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
)

// ErrNoAdvice is returned when no scan has been published for the world.
var ErrNoAdvice = errors.New("scan: no published advice")

// Reader serves the published advice set. Readers only ever see a complete
// generation: the score index and data map are swapped atomically by the
// job, and metadata keys are read after them.
type Reader struct {
	store   cache.Store
	names   Namer
	maxConc int
}

// NewReader creates a reader. names may be nil to disable backfill.
func NewReader(store cache.Store, names Namer, maxConc int) *Reader {
	if maxConc <= 0 {
		maxConc = 8
	}
	return &Reader{store: store, names: names, maxConc: maxConc}
}

// Top returns the highest-scored k candidates for a world, in published
// order, lazily backfilling missing display names. k <= 0 returns the whole
// set.
func (r *Reader) Top(ctx context.Context, world string, k int) (model.AdviceSet, error) {
	rawIndex, err := r.store.Get(ctx, scoreKey(world))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return model.AdviceSet{}, ErrNoAdvice
		}
		return model.AdviceSet{}, fmt.Errorf("scan: read index: %w", err)
	}
	rawData, err := r.store.Get(ctx, dataKey(world))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return model.AdviceSet{}, ErrNoAdvice
		}
		return model.AdviceSet{}, fmt.Errorf("scan: read data: %w", err)
	}

	var index []scoreEntry
	if err := json.Unmarshal([]byte(rawIndex), &index); err != nil {
		return model.AdviceSet{}, fmt.Errorf("scan: decode index: %w", err)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(rawData), &data); err != nil {
		return model.AdviceSet{}, fmt.Errorf("scan: decode data: %w", err)
	}

	if k > 0 && len(index) > k {
		index = index[:k]
	}

	items := make([]model.AdviceItem, 0, len(index))
	for _, e := range index {
		raw, ok := data[strconv.FormatInt(e.ItemID, 10)]
		if !ok {
			continue
		}
		var item model.AdviceItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			slog.Warn("advice entry skipped", "world", world, "item_id", e.ItemID, "err", err)
			continue
		}
		items = append(items, item)
	}

	r.backfillNames(ctx, items)

	set := model.AdviceSet{World: world, Items: items}
	if raw, err := r.store.Get(ctx, tsKey(world)); err == nil {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			set.GeneratedAt = time.Unix(ts, 0).UTC()
		}
	}
	if raw, err := r.store.Get(ctx, countKey(world)); err == nil {
		if n, err := strconv.Atoi(raw); err == nil {
			set.Scanned = n
		}
	}
	return set, nil
}

// Meta returns the publish timestamp and scanned count of the live
// generation without loading the data map.
func (r *Reader) Meta(ctx context.Context, world string) (time.Time, int, error) {
	rawTS, err := r.store.Get(ctx, tsKey(world))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return time.Time{}, 0, ErrNoAdvice
		}
		return time.Time{}, 0, err
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("scan: decode ts: %w", err)
	}
	count := 0
	if raw, err := r.store.Get(ctx, countKey(world)); err == nil {
		count, _ = strconv.Atoi(raw)
	}
	return time.Unix(ts, 0).UTC(), count, nil
}

// backfillNames resolves missing display names with bounded fan-out. A
// failed lookup leaves the name null; it never fails the read.
func (r *Reader) backfillNames(ctx context.Context, items []model.AdviceItem) {
	if r.names == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConc)
	for i := range items {
		if items[i].Name != nil {
			continue
		}
		i := i
		g.Go(func() error {
			name, err := r.names.ItemName(gctx, items[i].ItemID)
			if err != nil || name == "" {
				return nil
			}
			items[i].Name = &name
			return nil
		})
	}
	_ = g.Wait()
}
