// Package cache defines the key/value store backing every layer of the
// broker. Redis is the production implementation; MemoryStore serves tests
// and development.
//
// Values are opaque serialized blobs; callers decide the encoding. Keys are
// namespaced with ':' separators and must be unique per (namespace, world,
// item, kind) tuple.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the cache contract. Write failures during enrichment are
// best-effort: callers log and keep going, they never drop already-fetched
// data because a cache write failed. Only Ping distinguishes connectivity
// loss.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// GetMap returns all fields of the hash at key. Missing hash yields an
	// empty map, not an error.
	GetMap(ctx context.Context, key string) (map[string]string, error)

	// SetMapField sets one field of the hash at key.
	SetMapField(ctx context.Context, key, field, value string) error

	// Rename atomically moves src over dst, replacing it. When src does not
	// exist it is a no-op and reports false.
	Rename(ctx context.Context, src, dst string) (bool, error)

	// RenamePair applies two renames as one atomic step: readers see both
	// destinations replaced together or neither. When either source is
	// missing nothing moves and it reports false.
	RenamePair(ctx context.Context, srcA, dstA, srcB, dstB string) (bool, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping reports store connectivity.
	Ping(ctx context.Context) bool

	// Close releases the underlying connection.
	Close() error
}

// Key joins parts into a namespaced cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
