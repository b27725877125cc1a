// Package signal persists the ephemeral per-identifier request fingerprints
// used for anomaly detection, plus the cooldown flags the heuristics raise.
package signal

import (
	"context"
	"time"

	"vida-gateway/pkg/domain"
)

// Fingerprint is one admitted request's trace in the trailing window.
type Fingerprint struct {
	Timestamp time.Time
	Tier      domain.Tier
	Resource  string
}

// Store is the persistence interface for threat signals. Fingerprints outside
// the trailing window are discarded by the store.
type Store interface {
	// Append records a fingerprint and prunes entries older than window.
	Append(ctx context.Context, identifier string, fp Fingerprint, window time.Duration) error

	// Window returns the fingerprints recorded since the given time.
	Window(ctx context.Context, identifier string, since time.Time) ([]Fingerprint, error)

	// SetCooldown marks the identifier as rate-tightened until the given
	// time. Later SetCooldown calls may only extend, never shorten.
	SetCooldown(ctx context.Context, identifier string, until time.Time) error

	// CooldownUntil returns the cooldown expiry, or the zero time when the
	// identifier is not in cooldown.
	CooldownUntil(ctx context.Context, identifier string) (time.Time, error)
}
