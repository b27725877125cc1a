package audit

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence interface for audit records. Implementations are
// append-only: Update does not exist, and Delete is reachable only through
// the recorder's legal-hold path.
type Store interface {
	// Append persists a record. Records are never modified after this call.
	Append(ctx context.Context, rec Record) error

	// Get returns a record by id.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// Query returns records matching the filter in timestamp order. It is
	// read-only and paginated via Filter.Limit/Offset.
	Query(ctx context.Context, f Filter) ([]Record, error)

	// Delete removes a single record. Callers must go through the recorder,
	// which enforces retention and audits the legal-hold override.
	Delete(ctx context.Context, id uuid.UUID) error
}
