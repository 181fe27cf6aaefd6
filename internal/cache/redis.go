package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{rdb: redis.NewClient(opt)}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0 // redis: zero expiration = persistent
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) GetMap(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *RedisStore) SetMapField(ctx context.Context, key, field, value string) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

// Rename uses RENAME, which replaces dst atomically. A missing src is a
// normal outcome (e.g. publishing an empty scan) and reports false.
func (s *RedisStore) Rename(ctx context.Context, src, dst string) (bool, error) {
	err := s.rdb.Rename(ctx, src, dst).Err()
	if err == nil {
		return true, nil
	}
	// go-redis surfaces a missing source as a generic error string.
	if err.Error() == "ERR no such key" {
		return false, nil
	}
	return false, err
}

// RenamePair issues both RENAMEs inside one MULTI/EXEC transaction so no
// command from another connection can interleave between them. Sources are
// existence-checked first; the scan job is the only writer of staged keys,
// so the check cannot race another publisher.
func (s *RedisStore) RenamePair(ctx context.Context, srcA, dstA, srcB, dstB string) (bool, error) {
	n, err := s.rdb.Exists(ctx, srcA, srcB).Result()
	if err != nil {
		return false, err
	}
	if n != 2 {
		return false, nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.Rename(ctx, srcA, dstA)
	pipe.Rename(ctx, srcB, dstB)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) Ping(ctx context.Context) bool {
	return s.rdb.Ping(ctx).Err() == nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
