package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]entry
	hashes map[string]map[string]string
	now    func() time.Time
}

type entry struct {
	value   string
	expires time.Time // zero = never
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]entry),
		hashes: make(map[string]map[string]string),
		now:    time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.values[key]
	if !ok || s.expired(e) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.values[key] = entry{value: value, expires: exp}
	return nil
}

func (s *MemoryStore) GetMap(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *MemoryStore) SetMapField(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *MemoryStore) Rename(_ context.Context, src, dst string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.present(src) {
		return false, nil
	}
	s.move(src, dst)
	return true, nil
}

func (s *MemoryStore) RenamePair(_ context.Context, srcA, dstA, srcB, dstB string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.present(srcA) || !s.present(srcB) {
		return false, nil
	}
	s.move(srcA, dstA)
	s.move(srcB, dstB)
	return true, nil
}

// present and move assume the caller holds the write lock.
func (s *MemoryStore) present(key string) bool {
	if e, ok := s.values[key]; ok && !s.expired(e) {
		return true
	}
	_, ok := s.hashes[key]
	return ok
}

func (s *MemoryStore) move(src, dst string) {
	if e, ok := s.values[src]; ok {
		s.values[dst] = e
		delete(s.values, src)
		return
	}
	if h, ok := s.hashes[src]; ok {
		s.hashes[dst] = h
		delete(s.hashes, src)
	}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.values[key]; ok && !s.expired(e) {
		return true, nil
	}
	_, ok := s.hashes[key]
	return ok, nil
}

func (s *MemoryStore) Ping(context.Context) bool { return true }

func (s *MemoryStore) Close() error { return nil }

// SetClock overrides the store's clock. Test hook for TTL expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) expired(e entry) bool {
	return !e.expires.IsZero() && s.now().After(e.expires)
}
