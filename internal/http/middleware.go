package httpapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"vida-gateway/pkg/requestcontext"
)

// requestMetadata populates the request context with the values every stage
// downstream reads: correlation id, a pinned clock reading so all window
// arithmetic in one request sees one time, and the caller's network origin.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := r.Context()
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())
		ctx = requestcontext.WithClientIP(ctx, clientIP(r))
		ctx = requestcontext.WithUserAgent(ctx, r.UserAgent())

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer. The gateway assumes a trusted proxy in front when the header is set.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken extracts the credential from the Authorization header. An empty
// return means no credential was offered; verification decides what that
// means.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
