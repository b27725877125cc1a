// Package records is the demonstration resource behind the gatekeeper: a
// small store of patient records whose protected fields are sealed at write
// time. Handlers return the protected form; the reveal stage decides what the
// caller sees.
package records

import (
	"context"
	"sync"

	dErrors "vida-gateway/pkg/domain-errors"
)

// Protector seals protected fields in a payload.
type Protector interface {
	Protect(payload map[string]any) (map[string]any, error)
}

// Store keeps protected record payloads keyed by id.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]any
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{records: make(map[string]map[string]any)}
}

// Put seals the payload's protected fields and stores it.
func (s *Store) Put(_ context.Context, id string, payload map[string]any, protector Protector) error {
	if id == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "record id is required")
	}
	sealed, err := protector.Protect(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = sealed
	return nil
}

// Get returns the protected payload for a record id.
func (s *Store) Get(_ context.Context, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.records[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "record %s not found", id)
	}
	// Shallow copy so callers cannot mutate the stored payload.
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out, nil
}

// SeedDemo loads a handful of records for local development.
func SeedDemo(ctx context.Context, store *Store, protector Protector) error {
	demo := map[string]map[string]any{
		"rec-001": {
			"record_id":         "rec-001",
			"identifier_number": "4711-2209",
			"mrn":               "MRN-88213",
			"contact_phone":     "+47 22 00 11 22",
			"contact_email":     "ola.nordmann@example.com",
			"date_of_birth":     "1957-03-14",
			"admission_date":    "2026-08-12",
			"clinical_notes":    "Stable post-op, mobilizing with assistance.",
			"ward":              "B4",
		},
		"rec-002": {
			"record_id":         "rec-002",
			"identifier_number": "5583-0041",
			"ssn":               "150480-29871",
			"contact_phone":     "+47 99 88 77 66",
			"address":           "Storgata 12, 0155 Oslo",
			"date_of_birth":     "1980-04-15",
			"discharge_summary": "Discharged with oral antibiotics, follow-up in 14 days.",
			"ward":              "A2",
		},
	}
	for id, payload := range demo {
		if err := store.Put(ctx, id, payload, protector); err != nil {
			return err
		}
	}
	return nil
}
