// Package fieldguard encrypts protected payload fields at rest and controls
// what leaves the gateway: plaintext for fields the caller may see, a
// class-shaped mask for the rest. Decryption failures degrade the single
// field, never the request.
package fieldguard

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"sort"

	"vida-gateway/internal/audit"
	"vida-gateway/internal/platform/metrics"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
	"vida-gateway/pkg/requestcontext"
)

// envelopeAlg names the only algorithm the guard produces. Kept in the
// envelope so a future rotation can decrypt old payloads.
const envelopeAlg = "aes-256-gcm"

// Envelope is the stored form of one protected field value.
type Envelope struct {
	Alg        string `json:"alg"`
	Field      string `json:"field"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// AuditRecorder is the slice of the audit recorder the guard needs.
type AuditRecorder interface {
	Record(ctx context.Context, rec audit.Record) (*audit.Record, error)
}

// Guard protects and reveals payload fields using the per-field keyring.
type Guard struct {
	keyring  *Keyring
	recorder AuditRecorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard constructs the field guard.
func NewGuard(keyring *Keyring, recorder AuditRecorder, opts ...GuardOption) (*Guard, error) {
	if keyring == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "keyring is required")
	}
	if recorder == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit recorder is required")
	}
	g := &Guard{keyring: keyring, recorder: recorder}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Protect returns a copy of payload with every registered protected field
// replaced by its sealed envelope. Unregistered fields pass through untouched;
// absent fields stay absent.
func (g *Guard) Protect(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	for name, value := range payload {
		aead, protected := g.keyring.aead(name)
		if !protected {
			out[name] = value
			continue
		}
		plaintext, ok := value.(string)
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "protected field %s must be a string", name)
		}

		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
		}
		sealed := aead.Seal(nil, nonce, []byte(plaintext), []byte(name))
		out[name] = Envelope{
			Alg:        envelopeAlg,
			Field:      name,
			Nonce:      base64.StdEncoding.EncodeToString(nonce),
			Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		}
	}
	return out, nil
}

// Reveal returns the caller-facing view of a protected payload: plaintext for
// fields in visible, the class mask for the rest. A field whose ciphertext
// fails authentication comes back null and is audited as an integrity
// failure; the rest of the payload is unaffected.
func (g *Guard) Reveal(ctx context.Context, resource string, subjectID string, payload map[string]any, visible domain.FieldSet) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	var revealed []string

	for name, value := range payload {
		env, ok := decodeEnvelope(value)
		if !ok {
			out[name] = value
			continue
		}
		class, registered := domain.ProtectedFieldClass(name)
		if !registered {
			class = domain.FieldClassFreeText
		}
		if !visible.Has(name) {
			out[name] = maskFor(class)
			continue
		}

		plaintext, err := g.open(name, env)
		if err != nil {
			out[name] = nil
			if ferr := g.auditIntegrityFailure(ctx, resource, subjectID, name); ferr != nil {
				return nil, ferr
			}
			continue
		}
		out[name] = plaintext
		revealed = append(revealed, name)
	}

	if len(revealed) > 0 {
		sort.Strings(revealed)
		if _, err := g.recorder.Record(ctx, audit.Record{
			SubjectID:     subjectID,
			Action:        audit.ActionFieldReveal,
			Resource:      resource,
			Outcome:       domain.OutcomeAdmittedSuccess,
			Origin:        requestcontext.ClientIP(ctx),
			TouchedFields: revealed,
			Severity:      audit.SeverityInfo,
			RequestID:     requestcontext.RequestID(ctx),
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// open authenticates and decrypts one envelope.
func (g *Guard) open(name string, env Envelope) (string, error) {
	aead, ok := g.keyring.aead(name)
	if !ok {
		return "", dErrors.Newf(dErrors.CodeIntegrityFailure, "no key for field %s", name)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != aead.NonceSize() {
		return "", dErrors.Newf(dErrors.CodeIntegrityFailure, "malformed nonce for %s", name)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", dErrors.Newf(dErrors.CodeIntegrityFailure, "malformed ciphertext for %s", name)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(name))
	if err != nil {
		return "", dErrors.Wrapf(err, dErrors.CodeIntegrityFailure, "open %s", name)
	}
	return string(plaintext), nil
}

func (g *Guard) auditIntegrityFailure(ctx context.Context, resource, subjectID, field string) error {
	if g.metrics != nil {
		g.metrics.FieldIntegrityErrors.Inc()
	}
	if g.logger != nil {
		g.logger.WarnContext(ctx, "protected field failed integrity check",
			"field", field,
			"resource", resource,
		)
	}
	_, err := g.recorder.Record(ctx, audit.Record{
		SubjectID:     subjectID,
		Action:        audit.ActionFieldIntegrity,
		Resource:      resource,
		Outcome:       domain.OutcomeAdmittedSuccess,
		Origin:        requestcontext.ClientIP(ctx),
		TouchedFields: []string{field},
		Reason:        "authenticated decryption failed",
		Severity:      audit.SeverityCritical,
		RequestID:     requestcontext.RequestID(ctx),
	})
	return err
}

// decodeEnvelope recognizes the stored form whether it survived a JSON round
// trip (map) or is still the struct Protect produced.
func decodeEnvelope(value any) (Envelope, bool) {
	switch v := value.(type) {
	case Envelope:
		return v, v.Alg == envelopeAlg
	case map[string]any:
		alg, _ := v["alg"].(string)
		if alg != envelopeAlg {
			return Envelope{}, false
		}
		field, _ := v["field"].(string)
		nonce, _ := v["nonce"].(string)
		ct, _ := v["ciphertext"].(string)
		return Envelope{Alg: alg, Field: field, Nonce: nonce, Ciphertext: ct}, true
	default:
		return Envelope{}, false
	}
}
