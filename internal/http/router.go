// Package httpapi is the thin HTTP layer. Handlers translate requests into
// pipeline runs and pipeline outcomes into responses; no gatekeeper logic
// lives here.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vida-gateway/internal/audit"
	"vida-gateway/internal/identity"
	"vida-gateway/internal/pipeline"
	"vida-gateway/internal/records"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
)

// AuditQuerier is the read side of the audit trail.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error)
}

// ReadinessCheck pings one downstream dependency.
type ReadinessCheck func(ctx context.Context) error

// Handler carries the wired services for the HTTP routes.
type Handler struct {
	gateway *pipeline.Gateway
	records *records.Store
	auditor AuditQuerier
	ready   map[string]ReadinessCheck
	logger  *slog.Logger
}

// NewHandler constructs the HTTP handler set.
func NewHandler(gateway *pipeline.Gateway, store *records.Store, auditor AuditQuerier, ready map[string]ReadinessCheck, logger *slog.Logger) (*Handler, error) {
	if gateway == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pipeline gateway is required")
	}
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "record store is required")
	}
	if auditor == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit querier is required")
	}
	return &Handler{
		gateway: gateway,
		records: store,
		auditor: auditor,
		ready:   ready,
		logger:  logger,
	}, nil
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestMetadata)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/records/{id}", h.handleGetRecord)
		r.Get("/audit/records", h.handleQueryAudit)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "vida-gateway"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.ready))
	for name, check := range h.ready {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, checks)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.gateway.Run(r.Context(), pipeline.Request{
		Token:           bearerToken(r),
		Resource:        "records/" + id,
		Class:           domain.ClassProtectedSubject,
		Action:          domain.ActionRead,
		RequestedFields: splitFields(r.URL.Query().Get("fields")),
		Handler: func(ctx context.Context, _ *identity.Identity, _ domain.FieldSet, _ map[string]any) (map[string]any, error) {
			return h.records.Get(ctx, id)
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, res)
}

// handleQueryAudit exposes the audit trail for compliance export. The query
// itself runs through the gatekeeper as an administrative resource, so only
// strongly-authenticated operators with the operations purpose reach the
// store.
func (h *Handler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, runErr := h.gateway.Run(r.Context(), pipeline.Request{
		Token:    bearerToken(r),
		Resource: "audit/records",
		Class:    domain.ClassAdministrative,
		Action:   domain.ActionRead,
		Handler: func(ctx context.Context, _ *identity.Identity, _ domain.FieldSet, _ map[string]any) (map[string]any, error) {
			recs, err := h.auditor.Query(ctx, filter)
			if err != nil {
				return nil, err
			}
			return map[string]any{"records": recs, "count": len(recs)}, nil
		},
	})
	if runErr != nil {
		writeError(w, runErr)
		return
	}
	writeOutcome(w, res)
}

func auditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		SubjectID: q.Get("subject_id"),
		Action:    q.Get("action"),
		Outcome:   domain.Outcome(q.Get("outcome")),
		Severity:  audit.Severity(q.Get("severity")),
	}

	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s timestamp", name)
			}
			*dst = t
		}
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return filter, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", name)
			}
			*dst = n
		}
	}
	return filter, nil
}

func splitFields(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
