package counter

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore implements Store with process-local counters. Suitable for a
// single instance or tests; distributed deployments use the Redis store so
// all instances share one view.
// purgeEvery bounds how many increments may pass between sweeps of expired
// entries. Window-stamped keys are never reused, so without the sweep the map
// would grow for the life of the process.
const purgeEvery = 256

type InMemoryStore struct {
	mu       sync.Mutex
	counters map[string]*entry
	ops      int
	// now is swappable for tests.
	now func() time.Time
}

type entry struct {
	count     int64
	expiresAt time.Time
}

// NewInMemoryStore creates an empty in-memory counter store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		counters: make(map[string]*entry),
		now:      time.Now,
	}
}

// NewInMemoryStoreWithClock creates a store with an injected clock.
func NewInMemoryStoreWithClock(now func() time.Time) *InMemoryStore {
	s := NewInMemoryStore()
	s.now = now
	return s
}

// Incr atomically increments key under the store lock.
func (s *InMemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.counters[key]
	if e == nil || !e.expiresAt.After(now) {
		e = &entry{expiresAt: now.Add(ttl)}
		s.counters[key] = e
	}
	e.count++

	s.ops++
	if s.ops%purgeEvery == 0 {
		s.purge()
	}
	return e.count, e.expiresAt.Sub(now), nil
}

// Get returns the current count; expired or missing keys read as zero.
func (s *InMemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.counters[key]
	if e == nil || !e.expiresAt.After(s.now()) {
		return 0, nil
	}
	return e.count, nil
}

// purge drops expired entries. Called under the store lock from Incr.
func (s *InMemoryStore) purge() {
	now := s.now()
	for k, e := range s.counters {
		if !e.expiresAt.After(now) {
			delete(s.counters, k)
		}
	}
}
