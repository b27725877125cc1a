package signal

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps fingerprints and cooldowns in memory.
type InMemoryStore struct {
	mu        sync.Mutex
	traces    map[string][]Fingerprint
	cooldowns map[string]time.Time
}

// NewInMemoryStore creates an empty in-memory signal store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		traces:    make(map[string][]Fingerprint),
		cooldowns: make(map[string]time.Time),
	}
}

// Append records a fingerprint and prunes the identifier's window.
func (s *InMemoryStore) Append(_ context.Context, identifier string, fp Fingerprint, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := fp.Timestamp.Add(-window)
	kept := s.traces[identifier][:0]
	for _, old := range s.traces[identifier] {
		if old.Timestamp.After(cutoff) {
			kept = append(kept, old)
		}
	}
	s.traces[identifier] = append(kept, fp)
	return nil
}

// Window returns fingerprints recorded since the given time.
func (s *InMemoryStore) Window(_ context.Context, identifier string, since time.Time) ([]Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Fingerprint
	for _, fp := range s.traces[identifier] {
		if fp.Timestamp.After(since) {
			out = append(out, fp)
		}
	}
	return out, nil
}

// SetCooldown extends the identifier's cooldown.
func (s *InMemoryStore) SetCooldown(_ context.Context, identifier string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.cooldowns[identifier]; !ok || until.After(current) {
		s.cooldowns[identifier] = until
	}
	return nil
}

// CooldownUntil returns the cooldown expiry, or zero when none.
func (s *InMemoryStore) CooldownUntil(_ context.Context, identifier string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldowns[identifier], nil
}
