package admission

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"vida-gateway/internal/admission/store/counter"
	"vida-gateway/internal/admission/store/signal"
	"vida-gateway/internal/audit"
	"vida-gateway/internal/platform/config"
	"vida-gateway/internal/platform/metrics"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
	"vida-gateway/pkg/platform/privacy"
	"vida-gateway/pkg/requestcontext"
)

// AuditRecorder is the slice of the audit recorder the controller needs.
type AuditRecorder interface {
	Record(ctx context.Context, rec audit.Record) (*audit.Record, error)
}

// Request is one admission check. Identifier is the normalized network
// origin; nothing the caller presents influences admission, only what the
// shared stores already know about the identifier.
type Request struct {
	Identifier string
	Tier       domain.Tier
	Resource   string
}

// Service is the admission controller. It holds no mutable state of its own:
// counters and signals live in the shared stores, policy is read-only after
// construction.
type Service struct {
	counters counter.Store
	signals  signal.Store
	recorder AuditRecorder
	config   config.AdmissionConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New constructs the admission controller.
func New(counters counter.Store, signals signal.Store, recorder AuditRecorder, cfg config.AdmissionConfig, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "counter store is required")
	}
	if signals == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "signal store is required")
	}
	if recorder == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit recorder is required")
	}
	s := &Service{
		counters: counters,
		signals:  signals,
		recorder: recorder,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Admit decides whether the request passes rate limiting. Store failures are
// returned as SinkUnavailable errors and the pipeline fails the request
// closed; admission never guesses under uncertainty.
func (s *Service) Admit(ctx context.Context, req Request) (*Result, error) {
	now := requestcontext.Now(ctx)

	level, err := s.observeGlobal(ctx, now)
	if err != nil {
		return nil, err
	}
	ok, reason, err := s.allowUnderLevel(ctx, level, req.Identifier, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		res := &Result{
			Reason:            reason,
			Level:             level,
			RetryAfterSeconds: ceilSeconds(now.Truncate(time.Minute).Add(time.Minute).Sub(now)),
		}
		return res, s.auditRejection(ctx, req, res)
	}

	limits, err := s.effectiveLimits(ctx, req.Tier, req.Identifier, level, now)
	if err != nil {
		return nil, err
	}

	minuteWindow := now.Truncate(time.Minute)
	hourWindow := now.Truncate(time.Hour)

	minuteCount, _, err := s.counters.Incr(ctx, windowKey(req.Identifier, req.Tier, "m", minuteWindow), 2*time.Minute)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "minute counter unavailable")
	}
	hourCount, _, err := s.counters.Incr(ctx, windowKey(req.Identifier, req.Tier, "h", hourWindow), 2*time.Hour)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "hour counter unavailable")
	}

	if minuteCount > int64(limits.PerMinute) {
		res := &Result{
			Reason:            ReasonMinuteLimit,
			Level:             level,
			RetryAfterSeconds: ceilSeconds(minuteWindow.Add(time.Minute).Sub(now)),
		}
		return res, s.auditRejection(ctx, req, res)
	}
	if hourCount > int64(limits.PerHour) {
		res := &Result{
			Reason:            ReasonHourLimit,
			Level:             level,
			RetryAfterSeconds: ceilSeconds(hourWindow.Add(time.Hour).Sub(now)),
		}
		return res, s.auditRejection(ctx, req, res)
	}

	burstCount, burstRemaining, err := s.counters.Incr(ctx, burstKey(req.Identifier, req.Tier, now, limits.BurstEvery), limits.BurstEvery)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "burst counter unavailable")
	}
	if burstCount > int64(limits.Burst) {
		res := &Result{
			Reason:            ReasonBurstLimit,
			Level:             level,
			RetryAfterSeconds: ceilSeconds(burstRemaining),
		}
		return res, s.auditRejection(ctx, req, res)
	}

	signals, err := s.observeThreat(ctx, req, now)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AdmissionDecisions.WithLabelValues(string(req.Tier), "admitted").Inc()
	}
	return &Result{Allowed: true, Level: level, Signals: signals}, nil
}

// effectiveLimits applies cooldown and elevated-stage tightening to the
// tier's configured thresholds. Stored counters are never touched; only the
// comparison point moves.
func (s *Service) effectiveLimits(ctx context.Context, tier domain.Tier, identifier string, level ProtectionLevel, now time.Time) (config.TierLimit, error) {
	limits := s.tierLimit(tier)

	factor := 1.0
	if level >= LevelElevated {
		factor *= s.config.CooldownFactor
	}
	cooldownUntil, err := s.signals.CooldownUntil(ctx, identifier)
	if err != nil {
		return limits, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "signal store unavailable")
	}
	if cooldownUntil.After(now) {
		factor *= s.config.CooldownFactor
	}

	if factor < 1.0 {
		limits.PerMinute = scaled(limits.PerMinute, factor)
		limits.PerHour = scaled(limits.PerHour, factor)
		limits.Burst = scaled(limits.Burst, factor)
	}
	return limits, nil
}

// observeThreat appends the request fingerprint and evaluates the anomaly
// heuristics. A firing heuristic is audited as high severity and tightens the
// identifier's limits for the cooldown period; it never rejects the current
// request.
func (s *Service) observeThreat(ctx context.Context, req Request, now time.Time) ([]string, error) {
	err := s.signals.Append(ctx, req.Identifier, signal.Fingerprint{
		Timestamp: now,
		Tier:      req.Tier,
		Resource:  req.Resource,
	}, s.config.SignalWindow)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "signal store unavailable")
	}

	window, err := s.signals.Window(ctx, req.Identifier, now.Add(-s.config.SignalWindow))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "signal store unavailable")
	}

	distinct := make(map[string]int)
	for _, fp := range window {
		distinct[fp.Resource]++
	}
	maxRepeat := 0
	for _, n := range distinct {
		if n > maxRepeat {
			maxRepeat = n
		}
	}

	var fired []string
	if len(distinct) > s.config.DiversityThreshold {
		fired = append(fired, SignalResourceDiversity)
	}
	if maxRepeat > s.config.RepeatThreshold {
		fired = append(fired, SignalRepeatResource)
	}
	if len(fired) == 0 {
		return nil, nil
	}

	if err := s.signals.SetCooldown(ctx, req.Identifier, now.Add(s.config.CooldownDuration)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "signal store unavailable")
	}
	for _, kind := range fired {
		if s.metrics != nil {
			s.metrics.ThreatSignals.WithLabelValues(kind).Inc()
		}
		if _, err := s.recorder.Record(ctx, audit.Record{
			SubjectID: req.Identifier,
			Action:    audit.ActionThreatSignal,
			Resource:  req.Resource,
			Outcome:   domain.OutcomeAdmittedSuccess,
			Origin:    requestcontext.ClientIP(ctx),
			Reason:    kind,
			Severity:  audit.SeverityCritical,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return nil, err
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "threat signal raised",
				"identifier", privacy.AnonymizeIP(req.Identifier),
				"kind", kind,
				"distinct_resources", len(distinct),
				"max_repeat", maxRepeat,
			)
		}
	}
	return fired, nil
}

// auditRejection writes the single audit entry for a rate-limit rejection.
// Global-ladder rejections carry their own action so compliance consumers can
// separate platform-wide protection events from per-identifier limits.
func (s *Service) auditRejection(ctx context.Context, req Request, res *Result) error {
	if s.metrics != nil {
		s.metrics.AdmissionDecisions.WithLabelValues(string(req.Tier), "rejected").Inc()
	}
	action := audit.ActionAdmission
	if res.Reason == ReasonGlobalRestrictive || res.Reason == ReasonGlobalEmergency {
		action = audit.ActionGlobalProtection
	}
	_, err := s.recorder.Record(ctx, audit.Record{
		SubjectID: req.Identifier,
		Action:    action,
		Resource:  req.Resource,
		Outcome:   domain.OutcomeRateLimited,
		Origin:    requestcontext.ClientIP(ctx),
		Reason:    res.Reason,
		Severity:  audit.SeverityWarning,
		RequestID: requestcontext.RequestID(ctx),
	})
	return err
}

func (s *Service) tierLimit(tier domain.Tier) config.TierLimit {
	switch tier {
	case domain.TierProtectedResource:
		return s.config.ProtectedResource
	case domain.TierAdministrative:
		return s.config.Administrative
	case domain.TierBulk:
		return s.config.Bulk
	default:
		return s.config.Standard
	}
}

func windowKey(identifier string, tier domain.Tier, granularity string, window time.Time) string {
	return identifier + ":" + string(tier) + ":" + granularity + ":" + strconv.FormatInt(window.Unix(), 10)
}

func burstKey(identifier string, tier domain.Tier, now time.Time, burstWindow time.Duration) string {
	slot := now.UnixNano() / int64(burstWindow)
	return identifier + ":" + string(tier) + ":b:" + strconv.FormatInt(slot, 10)
}

func scaled(limit int, factor float64) int {
	n := int(float64(limit) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int((d + time.Second - 1) / time.Second)
}
