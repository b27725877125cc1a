package testutil

import (
	"context"
	"time"

	"vida-gateway/pkg/requestcontext"
)

// Context builds a request context carrying the metadata the pipeline stages
// read, without running the HTTP middleware chain.
func Context(clientIP, requestID string) context.Context {
	ctx := context.Background()
	ctx = requestcontext.WithClientIP(ctx, clientIP)
	ctx = requestcontext.WithRequestID(ctx, requestID)
	return ctx
}

// ContextAt pins the request clock in addition to the metadata, so window
// arithmetic in tests is deterministic.
func ContextAt(clientIP, requestID string, at time.Time) context.Context {
	return requestcontext.WithTime(Context(clientIP, requestID), at)
}
