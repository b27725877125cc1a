// Package counter provides the shared atomic counter store behind the
// admission controller. Increment-and-read is a single indivisible operation
// against the store, so concurrent requests for one identifier can never both
// observe a pre-increment count and slip past a threshold together.
package counter

import (
	"context"
	"time"
)

// Store is the persistence interface for fixed-window counters. Keys are
// window-stamped strings; each counter carries its own TTL so state
// self-expires without a sweep.
type Store interface {
	// Incr atomically increments key and returns the post-increment count.
	// The TTL is armed on the first increment only; remaining reports the
	// time until the counter expires.
	Incr(ctx context.Context, key string, ttl time.Duration) (count int64, remaining time.Duration, err error)

	// Get returns the current count without incrementing. Missing keys
	// read as zero.
	Get(ctx context.Context, key string) (int64, error)
}
