// Package pipeline orchestrates the gatekeeper stages for one request:
// admission, credential verification, access evaluation, the resource
// handler, and field reveal. Stages run strictly in that order and the first
// rejection is terminal. Every terminal outcome leaves exactly one audit
// record: rejecting stages write their own, the pipeline writes the rest.
package pipeline

//go:generate mockgen -source=pipeline.go -destination=mocks/pipeline_mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"vida-gateway/internal/access"
	"vida-gateway/internal/admission"
	"vida-gateway/internal/audit"
	"vida-gateway/internal/identity"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
	"vida-gateway/pkg/requestcontext"
)

// Admitter is the admission controller as the pipeline sees it.
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) (*admission.Result, error)
}

// CredentialVerifier validates bearer credentials.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string, now time.Time) (*identity.Identity, error)
}

// AccessEvaluator applies the role and purpose policy.
type AccessEvaluator interface {
	Evaluate(ctx context.Context, req access.Request) (*access.Decision, error)
}

// Revealer produces the caller-facing view of a protected payload.
type Revealer interface {
	Reveal(ctx context.Context, resource, subjectID string, payload map[string]any, visible domain.FieldSet) (map[string]any, error)
}

// AuditRecorder is the slice of the audit recorder the pipeline needs.
type AuditRecorder interface {
	Record(ctx context.Context, rec audit.Record) (*audit.Record, error)
}

// Handler produces the protected payload for an admitted, authenticated and
// authorized request. It receives the narrowed field set but must return the
// payload in protected form; the reveal stage decides what the caller sees.
type Handler func(ctx context.Context, ident *identity.Identity, visible domain.FieldSet, body map[string]any) (map[string]any, error)

// Request describes one request entering the gatekeeper.
type Request struct {
	Token           string
	Resource        string
	Class           domain.ResourceClass
	Action          domain.Action
	RequestedFields []string
	Body            map[string]any
	Handler         Handler
}

// Response is the pipeline's terminal result. Payload is set only on success.
type Response struct {
	Outcome           domain.Outcome
	Payload           map[string]any
	Reason            string
	RetryAfterSeconds int
}

// MetricsSink is the one instrument the pipeline drives.
type MetricsSink interface {
	ObserveOutcome(outcome domain.Outcome)
}

// Gateway runs the staged pipeline.
type Gateway struct {
	admitter Admitter
	verifier CredentialVerifier
	access   AccessEvaluator
	revealer Revealer
	recorder AuditRecorder
	metrics  MetricsSink
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics attaches the outcome counter.
func WithMetrics(m MetricsSink) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New constructs the gateway pipeline.
func New(admitter Admitter, verifier CredentialVerifier, evaluator AccessEvaluator, revealer Revealer, recorder AuditRecorder, opts ...Option) (*Gateway, error) {
	if admitter == nil || verifier == nil || evaluator == nil || revealer == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "all pipeline stages are required")
	}
	if recorder == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit recorder is required")
	}
	g := &Gateway{
		admitter: admitter,
		verifier: verifier,
		access:   evaluator,
		revealer: revealer,
		recorder: recorder,
		tracer:   otel.Tracer("vida-gateway/pipeline"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Run drives one request through the stages. The returned error is non-nil
// only for internal failures (sink unavailability, handler faults); every
// policy outcome comes back as a Response.
func (g *Gateway) Run(ctx context.Context, req Request) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.request")
	defer span.End()

	if err := ctx.Err(); err != nil {
		// Nothing has been charged yet; record the abort and stop.
		return g.aborted(ctx, req, "before-admission")
	}

	result, err := g.admit(ctx, req)
	if err != nil {
		return nil, g.auditFatal(ctx, req, "", err)
	}
	if !result.Allowed {
		return g.terminal(&Response{
			Outcome:           domain.OutcomeRateLimited,
			Reason:            result.Reason,
			RetryAfterSeconds: result.RetryAfterSeconds,
		}), nil
	}

	// From here the request is charged against its counters; a disconnect is
	// recorded, not refunded.
	if err := ctx.Err(); err != nil {
		return g.aborted(ctx, req, "after-admission")
	}

	ident, err := g.verify(ctx, req)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeUnauthenticated {
			return g.terminal(&Response{Outcome: domain.OutcomeUnauthenticated}), nil
		}
		return nil, g.auditFatal(ctx, req, "", err)
	}
	if err := ctx.Err(); err != nil {
		return g.aborted(ctx, req, "after-authentication")
	}

	decision, err := g.evaluate(ctx, req, ident)
	if err != nil {
		return nil, g.auditFatal(ctx, req, ident.SubjectID, err)
	}
	if !decision.Allowed {
		return g.terminal(&Response{
			Outcome: domain.OutcomeUnauthorized,
			Reason:  decision.Reason,
		}), nil
	}
	if err := ctx.Err(); err != nil {
		return g.aborted(ctx, req, "after-authorization")
	}

	payload, err := g.handle(ctx, req, ident, decision)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeNotFound {
			return nil, g.auditNotFound(ctx, req, ident, err)
		}
		return nil, g.auditFatal(ctx, req, ident.SubjectID, err)
	}

	// The handler has run; reveal and audit must complete even if the caller
	// has gone away, otherwise the trail would miss a served request.
	ctx = context.WithoutCancel(ctx)

	view, err := g.reveal(ctx, req, ident, decision, payload)
	if err != nil {
		return nil, g.auditFatal(ctx, req, ident.SubjectID, err)
	}

	if _, err := g.recorder.Record(ctx, audit.Record{
		SubjectID:     ident.SubjectID,
		Action:        audit.ActionRequest,
		Resource:      req.Resource,
		Outcome:       domain.OutcomeAdmittedSuccess,
		Origin:        requestcontext.ClientIP(ctx),
		SessionID:     ident.SessionID,
		TouchedFields: decision.VisibleFieldNames(),
		RequestID:     requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}
	return g.terminal(&Response{Outcome: domain.OutcomeAdmittedSuccess, Payload: view}), nil
}

func (g *Gateway) admit(ctx context.Context, req Request) (*admission.Result, error) {
	ctx, span := g.tracer.Start(ctx, "stage.admission")
	defer span.End()
	return g.admitter.Admit(ctx, admission.Request{
		Identifier: g.identifier(ctx, req),
		Tier:       req.Class.Tier(),
		Resource:   req.Resource,
	})
}

func (g *Gateway) verify(ctx context.Context, req Request) (*identity.Identity, error) {
	ctx, span := g.tracer.Start(ctx, "stage.authentication")
	defer span.End()
	// An absent credential goes through the verifier too, so the attempt is
	// audited like any other failure.
	return g.verifier.Verify(ctx, req.Token, requestcontext.Now(ctx))
}

func (g *Gateway) evaluate(ctx context.Context, req Request, ident *identity.Identity) (*access.Decision, error) {
	ctx, span := g.tracer.Start(ctx, "stage.authorization")
	defer span.End()
	return g.access.Evaluate(ctx, access.Request{
		Identity:        ident,
		Resource:        req.Resource,
		Class:           req.Class,
		Action:          req.Action,
		RequestedFields: req.RequestedFields,
	})
}

func (g *Gateway) handle(ctx context.Context, req Request, ident *identity.Identity, decision *access.Decision) (map[string]any, error) {
	ctx, span := g.tracer.Start(ctx, "stage.handler")
	defer span.End()
	if req.Handler == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "no handler for resource")
	}
	return req.Handler(ctx, ident, decision.VisibleFields, req.Body)
}

func (g *Gateway) reveal(ctx context.Context, req Request, ident *identity.Identity, decision *access.Decision, payload map[string]any) (map[string]any, error) {
	ctx, span := g.tracer.Start(ctx, "stage.reveal")
	defer span.End()
	if payload == nil {
		return nil, nil
	}
	return g.revealer.Reveal(ctx, req.Resource, ident.SubjectID, payload, decision.VisibleFields)
}

// aborted records a client disconnect as a terminal outcome.
func (g *Gateway) aborted(ctx context.Context, req Request, stage string) (*Response, error) {
	// The caller is gone; the audit write must not inherit its cancellation.
	ctx = context.WithoutCancel(ctx)
	if _, err := g.recorder.Record(ctx, audit.Record{
		Action:    audit.ActionRequest,
		Resource:  req.Resource,
		Outcome:   domain.OutcomeClientAborted,
		Origin:    requestcontext.ClientIP(ctx),
		Reason:    stage,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}
	return g.terminal(&Response{Outcome: domain.OutcomeClientAborted, Reason: stage}), nil
}

// auditNotFound records the terminal entry for a request that cleared every
// gate but named a missing resource. The caller tried a resource id that does
// not exist, which is exactly what the trail has to capture; a failed write
// fails the request closed like any other unaudited path.
func (g *Gateway) auditNotFound(ctx context.Context, req Request, ident *identity.Identity, cause error) error {
	if g.metrics != nil {
		g.metrics.ObserveOutcome(domain.OutcomeNotFound)
	}
	if _, err := g.recorder.Record(context.WithoutCancel(ctx), audit.Record{
		SubjectID: ident.SubjectID,
		Action:    audit.ActionRequest,
		Resource:  req.Resource,
		Outcome:   domain.OutcomeNotFound,
		Origin:    requestcontext.ClientIP(ctx),
		SessionID: ident.SessionID,
		Reason:    string(dErrors.CodeNotFound),
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return err
	}
	return cause
}

// auditFatal records an internal failure and returns the original error.
func (g *Gateway) auditFatal(ctx context.Context, req Request, subjectID string, cause error) error {
	if g.metrics != nil {
		g.metrics.ObserveOutcome(domain.OutcomeInternalFatal)
	}
	if g.logger != nil {
		g.logger.ErrorContext(ctx, "pipeline internal failure",
			"resource", req.Resource,
			"error", cause,
		)
	}
	// Best effort: if the audit sink itself is the failure, this write fails
	// too and the original cause still reaches the caller.
	rec := audit.Record{
		SubjectID: subjectID,
		Action:    audit.ActionRequest,
		Resource:  req.Resource,
		Outcome:   domain.OutcomeInternalFatal,
		Origin:    requestcontext.ClientIP(ctx),
		Reason:    string(dErrors.CodeOf(cause)),
		Severity:  audit.SeverityCritical,
		RequestID: requestcontext.RequestID(ctx),
	}
	if _, err := g.recorder.Record(context.WithoutCancel(ctx), rec); err != nil && !errors.Is(err, cause) {
		if g.logger != nil {
			g.logger.ErrorContext(ctx, "failed to audit internal failure", "error", err)
		}
	}
	return cause
}

func (g *Gateway) terminal(res *Response) *Response {
	if g.metrics != nil {
		g.metrics.ObserveOutcome(res.Outcome)
	}
	return res
}

// identifier picks the rate-limit identity. Admission runs before the
// credential is verified, so the token is still opaque here; trusting it as
// an identifier would let a flood of garbage tokens dodge per-origin limits.
// The network origin is the identifier for everyone.
func (g *Gateway) identifier(ctx context.Context, _ Request) string {
	return requestcontext.ClientIP(ctx)
}
