package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vida-gateway/internal/audit"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
	"vida-gateway/pkg/requestcontext"
)

// Verification failure reasons, recorded verbatim in the audit trail.
const (
	ReasonExpired          = "expired"
	ReasonMalformed        = "malformed"
	ReasonSignatureInvalid = "signature-invalid"
	ReasonMissingClaims    = "missing-claims"
)

// AuditRecorder is the slice of the audit recorder the verifier needs.
type AuditRecorder interface {
	Record(ctx context.Context, rec audit.Record) (*audit.Record, error)
}

// Verifier validates bearer credentials and extracts identity claims. Every
// verification attempt, success or failure, is audited before the result is
// returned; a failed audit write fails the verification itself.
type Verifier struct {
	signingKey []byte
	issuer     string
	audience   string
	recorder   AuditRecorder
	logger     *slog.Logger
}

// NewVerifier constructs a Verifier.
func NewVerifier(signingKey, issuer, audience string, recorder AuditRecorder, logger *slog.Logger) (*Verifier, error) {
	if signingKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "signing key is required")
	}
	if recorder == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit recorder is required")
	}
	return &Verifier{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		recorder:   recorder,
		logger:     logger,
	}, nil
}

// Verify validates the token against the supplied clock reading and returns
// the caller identity. There are no retries: a failed verification is
// terminal for the request.
func (v *Verifier) Verify(ctx context.Context, token string, now time.Time) (*Identity, error) {
	ident, reason, verifyErr := v.parse(token, now)

	outcome := domain.OutcomeAdmittedSuccess
	subjectID := ""
	sessionID := ""
	if ident != nil {
		subjectID = ident.SubjectID
		sessionID = ident.SessionID
	}
	if verifyErr != nil {
		outcome = domain.OutcomeUnauthenticated
	}

	if _, auditErr := v.recorder.Record(ctx, audit.Record{
		SubjectID: subjectID,
		Action:    audit.ActionCredentialVerify,
		Outcome:   outcome,
		Origin:    requestcontext.ClientIP(ctx),
		SessionID: sessionID,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	}); auditErr != nil {
		return nil, auditErr
	}

	if verifyErr != nil {
		if v.logger != nil {
			v.logger.WarnContext(ctx, "credential verification failed",
				"reason", reason,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, verifyErr
	}
	return ident, nil
}

// parse validates the token and maps every failure mode to a stable reason.
func (v *Verifier) parse(token string, now time.Time) (*Identity, string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenUnverifiable
			}
			return v.signingKey, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ReasonExpired, dErrors.New(dErrors.CodeUnauthenticated, "credential expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ReasonSignatureInvalid, dErrors.New(dErrors.CodeUnauthenticated, "credential signature invalid")
		default:
			return nil, ReasonMalformed, dErrors.New(dErrors.CodeUnauthenticated, "credential malformed")
		}
	}
	if !parsed.Valid {
		return nil, ReasonSignatureInvalid, dErrors.New(dErrors.CodeUnauthenticated, "credential invalid")
	}

	if claims.Subject == "" || claims.SessionID == "" || len(claims.Roles) == 0 || claims.Purpose == "" {
		return nil, ReasonMissingClaims, dErrors.New(dErrors.CodeUnauthenticated, "credential missing required claims")
	}

	roles := make([]domain.Role, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		role, err := domain.ParseRole(r)
		if err != nil {
			return nil, ReasonMissingClaims, dErrors.New(dErrors.CodeUnauthenticated, "credential carries unknown role")
		}
		roles = append(roles, role)
	}
	purpose, err := domain.ParsePurpose(claims.Purpose)
	if err != nil {
		return nil, ReasonMissingClaims, dErrors.New(dErrors.CodeUnauthenticated, "credential carries unknown purpose")
	}

	return &Identity{
		SubjectID:  claims.Subject,
		SessionID:  claims.SessionID,
		Roles:      roles,
		Purpose:    purpose,
		StrongAuth: claims.StrongAuth,
	}, "", nil
}
