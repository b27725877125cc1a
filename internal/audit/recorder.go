package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "vida-gateway/pkg/domain-errors"
)

// Exporter receives appended records for out-of-band delivery (SIEM,
// compliance reporting). Export must not block the request path; the primary
// durability guarantee lives in the Store, not the exporter.
type Exporter interface {
	Export(rec Record)
}

// Recorder appends integrity-tagged audit records. A failed append is fatal
// for the request it describes: the gateway fails closed rather than serving
// an unaudited response.
type Recorder struct {
	store     Store
	mac       []byte
	retention time.Duration
	exporter  Exporter
	logger    *slog.Logger
	observe   func(time.Duration)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithExporter attaches an out-of-band export sink.
func WithExporter(e Exporter) Option {
	return func(r *Recorder) { r.exporter = e }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithAppendObserver registers a latency callback for metrics.
func WithAppendObserver(fn func(time.Duration)) Option {
	return func(r *Recorder) { r.observe = fn }
}

// NewRecorder constructs a Recorder. integrityKey seeds the HMAC over record
// content; retention bounds how long records resist deletion.
func NewRecorder(store Store, integrityKey string, retention time.Duration, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit store is required")
	}
	if integrityKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit integrity key is required")
	}
	if retention <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit retention must be positive")
	}
	r := &Recorder{
		store:     store,
		mac:       []byte(integrityKey),
		retention: retention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends one entry. ID, timestamp, retention horizon and integrity
// tag are filled here; everything else comes from the caller. The returned
// record is the persisted form.
func (r *Recorder) Record(ctx context.Context, rec Record) (*Record, error) {
	start := time.Now()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	// Microsecond precision survives the Postgres timestamptz round trip, so
	// the integrity tag verifies against what the store actually holds.
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
	}
	rec.RetentionUntil = rec.Timestamp.Add(r.retention)
	rec.IntegrityTag = r.tag(rec)

	if err := r.store.Append(ctx, rec); err != nil {
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "audit append failed", "error", err, "action", rec.Action)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "audit append failed")
	}
	if r.observe != nil {
		r.observe(time.Since(start))
	}
	if r.exporter != nil {
		r.exporter.Export(rec)
	}
	return &rec, nil
}

// Verify recomputes the integrity tag for a stored record and reports whether
// it still matches. A false result means the record was altered after append.
func (r *Recorder) Verify(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	expected := r.tag(*rec)
	return hmac.Equal([]byte(expected), []byte(rec.IntegrityTag)), nil
}

// Query returns matching records, read-only and paginated. Defaults and caps
// on page size are applied here so stores stay simple.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	return r.store.Query(ctx, f)
}

// ErrRetentionActive is returned when deletion is requested inside the
// retention period without a legal hold.
var ErrRetentionActive = dErrors.New(dErrors.CodeUnauthorized, "record is within its retention period")

// Delete removes a record. Inside the retention period it is denied unless a
// legal hold is supplied; the override is itself audited before the deletion
// so the trail explains its own gap.
func (r *Recorder) Delete(ctx context.Context, id uuid.UUID, hold *LegalHold) error {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if time.Now().Before(rec.RetentionUntil) {
		if hold == nil || hold.CaseID == "" || hold.AuthorizedBy == "" {
			return ErrRetentionActive
		}
		if _, err := r.Record(ctx, Record{
			SubjectID: hold.AuthorizedBy,
			Action:    ActionLegalHoldDelete,
			Resource:  "audit/" + id.String(),
			Outcome:   "", // not a request outcome; the reason carries the case
			Reason:    "legal hold " + hold.CaseID,
			Severity:  SeverityCritical,
		}); err != nil {
			return err
		}
	}
	return r.store.Delete(ctx, id)
}

// tag computes the HMAC-SHA256 integrity tag over the canonical field order:
// identity id, timestamp, action, resource, outcome, origin, session id,
// touched fields. The same order backs the export contract.
func (r *Recorder) tag(rec Record) string {
	mac := hmac.New(sha256.New, r.mac)
	parts := []string{
		rec.ID.String(),
		rec.SubjectID,
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.Action,
		rec.Resource,
		string(rec.Outcome),
		rec.Origin,
		rec.SessionID,
		strings.Join(rec.TouchedFields, ","),
		rec.Reason,
		string(rec.Severity),
	}
	mac.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(mac.Sum(nil))
}
