package access

import (
	"context"
	"log/slog"
	"sort"

	"vida-gateway/internal/audit"
	"vida-gateway/internal/identity"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
	"vida-gateway/pkg/requestcontext"
)

// Denial reasons, recorded verbatim in the audit trail.
const (
	ReasonRoleInsufficient = "role-insufficient"
	ReasonPurposeMismatch  = "purpose-mismatch"
	ReasonMFARequired      = "mfa-required"
	ReasonMinimumNecessary = "minimum-necessary-violation"
)

// Request is one access check.
type Request struct {
	Identity *identity.Identity
	Resource string
	Class    domain.ResourceClass
	Action   domain.Action
	// RequestedFields, when non-empty, is the caller's explicit field
	// selection. Asking for fields beyond the narrowed set is a
	// minimum-necessary violation, not a silent trim.
	RequestedFields []string
}

// Decision is the evaluator's output. VisibleFields is the subset of
// protected fields the caller may see; the field guard consults it when
// revealing the response.
type Decision struct {
	Allowed       bool
	VisibleFields domain.FieldSet
	Reason        string
}

// AuditRecorder is the slice of the audit recorder the evaluator needs.
type AuditRecorder interface {
	Record(ctx context.Context, rec audit.Record) (*audit.Record, error)
}

// Evaluator applies the closed policy model. It holds no mutable state after
// construction and is safe for unsynchronized concurrent use.
type Evaluator struct {
	policy   Policy
	recorder AuditRecorder
	logger   *slog.Logger
}

// NewEvaluator validates the policy tables exhaustively and constructs an
// Evaluator. A table gap is a startup error.
func NewEvaluator(policy Policy, recorder AuditRecorder, logger *slog.Logger) (*Evaluator, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if recorder == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit recorder is required")
	}
	return &Evaluator{policy: policy, recorder: recorder, logger: logger}, nil
}

// Evaluate decides the request. Denials are audited with their specific
// reason before returning; the returned error is non-nil only when the audit
// sink is unavailable (which fails the request closed).
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	decision := e.decide(req)

	if !decision.Allowed {
		if _, err := e.recorder.Record(ctx, audit.Record{
			SubjectID: req.Identity.SubjectID,
			Action:    audit.ActionAccessEvaluate,
			Resource:  req.Resource,
			Outcome:   domain.OutcomeUnauthorized,
			Origin:    requestcontext.ClientIP(ctx),
			SessionID: req.Identity.SessionID,
			Reason:    decision.Reason,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return nil, err
		}
		if e.logger != nil {
			e.logger.WarnContext(ctx, "access denied",
				"subject_id", req.Identity.SubjectID,
				"resource", req.Resource,
				"action", req.Action,
				"reason", decision.Reason,
			)
		}
	}
	return decision, nil
}

func (e *Evaluator) decide(req Request) *Decision {
	ident := req.Identity

	permitted := false
	for _, role := range ident.Roles {
		if e.policy.RolePermissions[role][req.Action] {
			permitted = true
			break
		}
	}
	if !permitted {
		return &Decision{Reason: ReasonRoleInsufficient}
	}

	if !e.policy.ClassPurposes[req.Class][ident.Purpose] {
		return &Decision{Reason: ReasonPurposeMismatch}
	}

	if e.policy.MFARequired[req.Class] && !ident.StrongAuth {
		return &Decision{Reason: ReasonMFARequired}
	}

	// Minimum-necessary narrowing: widest role visibility, capped by purpose.
	roleVisible := make(domain.FieldSet)
	for _, role := range ident.Roles {
		for name := range e.policy.RoleFields[role] {
			roleVisible[name] = struct{}{}
		}
	}
	visible := roleVisible.Intersect(e.policy.PurposeFields[ident.Purpose])

	if len(req.RequestedFields) > 0 {
		for _, name := range req.RequestedFields {
			if _, protected := domain.ProtectedFieldClass(name); protected && !visible.Has(name) {
				return &Decision{Reason: ReasonMinimumNecessary}
			}
		}
	}

	return &Decision{Allowed: true, VisibleFields: visible}
}

// VisibleFieldNames returns the decision's field set in stable order, for
// logging and audit entries.
func (d *Decision) VisibleFieldNames() []string {
	names := d.VisibleFields.Names()
	sort.Strings(names)
	return names
}
