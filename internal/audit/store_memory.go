package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	dErrors "vida-gateway/pkg/domain-errors"
)

// InMemoryStore keeps audit records in memory. Used in tests and when no
// database is configured; production deployments use the Postgres store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	byID    map[uuid.UUID]int
}

// NewInMemoryStore creates an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[uuid.UUID]int)}
}

// Append persists a record.
func (s *InMemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[rec.ID]; exists {
		return dErrors.Newf(dErrors.CodeInvalidInput, "duplicate audit record %s", rec.ID)
	}
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

// Get returns a record by id.
func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "audit record %s not found", id)
	}
	rec := s.records[idx]
	return &rec, nil
}

// Query returns matching records in timestamp order.
func (s *InMemoryStore) Query(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	matched := make([]Record, 0)
	for _, rec := range s.records {
		if matches(rec, f) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if f.Offset >= len(matched) {
		return []Record{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Delete removes a record. Only reachable through the recorder's legal-hold
// path.
func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "audit record %s not found", id)
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	delete(s.byID, id)
	for i := idx; i < len(s.records); i++ {
		s.byID[s.records[i].ID] = i
	}
	return nil
}

// Tamper overwrites a stored record in place. Test hook for integrity
// verification; it has no production caller.
func (s *InMemoryStore) Tamper(id uuid.UUID, mutate func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	mutate(&s.records[idx])
	return true
}

func matches(rec Record, f Filter) bool {
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.Timestamp.Before(f.To) {
		return false
	}
	if f.SubjectID != "" && rec.SubjectID != f.SubjectID {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.Severity != "" && rec.Severity != f.Severity {
		return false
	}
	return true
}
