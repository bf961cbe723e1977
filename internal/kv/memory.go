package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryString struct {
	value     string
	expiresAt time.Time
}

func (e memoryString) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store for development and tests. Every
// operation holds a single mutex, so compound operations are atomic.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	strings  map[string]memoryString
	hashes   map[string]map[string]string
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock uses now to evaluate expiry.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:      now,
		strings:  make(map[string]memoryString),
		hashes:   make(map[string]map[string]string),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveString(key)
	if !ok {
		if n, ok := s.counters[key]; ok {
			return strconv.FormatInt(n, 10), nil
		}
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryString{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.strings[key] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if s.deleteKey(key) {
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key]++
	return s.counters[key], nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.hashes[key]
	if !ok || len(hash) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(hash))
	for field, value := range hash {
		out[field] = value
	}
	return out, nil
}

func (s *MemoryStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for field, value := range fields {
		s.setField(key, field, value)
	}
	return nil
}

func (s *MemoryStore) HSetField(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.hashes[key]
	if !ok {
		return ErrNotFound
	}
	if _, ok := hash[field]; !ok {
		return ErrNotFound
	}
	hash[field] = value
	return nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveString(key)
	if !ok || entry.value != expected {
		return false, nil
	}
	delete(s.strings, key)
	return true, nil
}

func (s *MemoryStore) CreateHashWithID(ctx context.Context, key string, fields map[string]string, counterKey, idField string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.hashes[key]) > 0 {
		return 0, ErrExists
	}
	s.counters[counterKey]++
	id := s.counters[counterKey]

	for field, value := range fields {
		s.setField(key, field, value)
	}
	s.setField(key, idField, strconv.FormatInt(id, 10))
	return id, nil
}

func (s *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]struct{})
	for key := range s.strings {
		keys[key] = struct{}{}
	}
	for key := range s.hashes {
		keys[key] = struct{}{}
	}
	for key := range s.counters {
		keys[key] = struct{}{}
	}

	var deleted int64
	for key := range keys {
		if strings.HasPrefix(key, prefix) && s.deleteKey(key) {
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) liveString(key string) (memoryString, bool) {
	entry, ok := s.strings[key]
	if !ok {
		return memoryString{}, false
	}
	if entry.expired(s.now()) {
		delete(s.strings, key)
		return memoryString{}, false
	}
	return entry, true
}

func (s *MemoryStore) setField(key, field, value string) {
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	hash[field] = value
}

func (s *MemoryStore) deleteKey(key string) bool {
	existed := false
	if _, ok := s.liveString(key); ok {
		delete(s.strings, key)
		existed = true
	}
	if _, ok := s.hashes[key]; ok {
		delete(s.hashes, key)
		existed = true
	}
	if _, ok := s.counters[key]; ok {
		delete(s.counters, key)
		existed = true
	}
	return existed
}
