package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback used in single-instance
// deployments. Semantics mirror the Redis store: lazy TTL expiry and
// an all-or-nothing PopFrontN under a single lock.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	lists  map[string][]string
	hashes map[string]map[string]string
	expiry map[string]time.Time
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Test hook for TTL behavior.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// purgeLocked removes the key everywhere if its TTL has lapsed.
func (s *MemoryStore) purgeLocked(key string) {
	if exp, ok := s.expiry[key]; ok && !s.now().Before(exp) {
		s.deleteLocked(key)
	}
}

func (s *MemoryStore) deleteLocked(key string) {
	delete(s.values, key)
	delete(s.lists, key)
	delete(s.hashes, key)
	delete(s.expiry, key)
}

func (s *MemoryStore) existsLocked(key string) bool {
	if _, ok := s.values[key]; ok {
		return true
	}
	if l, ok := s.lists[key]; ok && len(l) > 0 {
		return true
	}
	if h, ok := s.hashes[key]; ok && len(h) > 0 {
		return true
	}
	return false
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	val, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.setExpiryLocked(key, ttl)
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	s.setExpiryLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) setExpiryLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.deleteLocked(key)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	return s.existsLocked(key), nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	if s.existsLocked(key) {
		s.setExpiryLocked(key, ttl)
	}
	return nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) LRem(_ context.Context, key string, count int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	list := s.lists[key]
	removed := int64(0)
	out := list[:0]
	for _, v := range list {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = out
	}
	return nil
}

func (s *MemoryStore) PopFrontN(_ context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	list := s.lists[key]
	if len(list) < n {
		return nil, nil
	}
	out := make([]string, n)
	copy(out, list[:n])
	rest := list[n:]
	if len(rest) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = append([]string(nil), rest...)
	}
	return out, nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	val, ok := s.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(key)
	h := s.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *MemoryStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for key := range s.values {
		seen[key] = struct{}{}
	}
	for key := range s.lists {
		seen[key] = struct{}{}
	}
	for key := range s.hashes {
		seen[key] = struct{}{}
	}
	var keys []string
	for key := range seen {
		s.purgeLocked(key)
		if !s.existsLocked(key) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Close() error { return nil }
