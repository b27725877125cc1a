package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"vida-gateway/internal/access"
	"vida-gateway/internal/admission"
	"vida-gateway/internal/audit"
	"vida-gateway/internal/identity"
	"vida-gateway/internal/pipeline/mocks"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
	"vida-gateway/pkg/requestcontext"
)

type PipelineSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	admitter *mocks.MockAdmitter
	verifier *mocks.MockCredentialVerifier
	access   *mocks.MockAccessEvaluator
	revealer *mocks.MockRevealer
	recorder *mocks.MockAuditRecorder
	gateway  *Gateway
	now      time.Time
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.admitter = mocks.NewMockAdmitter(s.ctrl)
	s.verifier = mocks.NewMockCredentialVerifier(s.ctrl)
	s.access = mocks.NewMockAccessEvaluator(s.ctrl)
	s.revealer = mocks.NewMockRevealer(s.ctrl)
	s.recorder = mocks.NewMockAuditRecorder(s.ctrl)

	gateway, err := New(s.admitter, s.verifier, s.access, s.revealer, s.recorder)
	s.Require().NoError(err)
	s.gateway = gateway
	s.now = time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
}

func (s *PipelineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *PipelineSuite) ctx() context.Context {
	ctx := requestcontext.WithClientIP(context.Background(), "203.0.113.7")
	ctx = requestcontext.WithRequestID(ctx, "req-1")
	return requestcontext.WithTime(ctx, s.now)
}

func (s *PipelineSuite) request() Request {
	return Request{
		Token:    "token",
		Resource: "records/1",
		Class:    domain.ClassProtectedSubject,
		Action:   domain.ActionRead,
		Handler: func(context.Context, *identity.Identity, domain.FieldSet, map[string]any) (map[string]any, error) {
			return map[string]any{"mrn": "sealed"}, nil
		},
	}
}

func (s *PipelineSuite) identity() *identity.Identity {
	return &identity.Identity{
		SubjectID:  "user-1",
		SessionID:  "sess-1",
		Roles:      []domain.Role{domain.RoleClinician},
		Purpose:    domain.PurposeTreatment,
		StrongAuth: true,
	}
}

func (s *PipelineSuite) expectAdmitted() {
	s.admitter.EXPECT().
		Admit(gomock.Any(), gomock.Any()).
		Return(&admission.Result{Allowed: true}, nil)
}

// Rejections terminate the pipeline before any later stage runs: the mocks
// for those stages have no expectations, so a leaked call fails the test.
func (s *PipelineSuite) TestRateLimitedStopsPipeline() {
	s.admitter.EXPECT().
		Admit(gomock.Any(), admission.Request{
			Identifier: "203.0.113.7",
			Tier:       domain.TierProtectedResource,
			Resource:   "records/1",
		}).
		Return(&admission.Result{Reason: admission.ReasonMinuteLimit, RetryAfterSeconds: 30}, nil)

	res, err := s.gateway.Run(s.ctx(), s.request())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeRateLimited, res.Outcome)
	s.Equal(admission.ReasonMinuteLimit, res.Reason)
	s.Equal(30, res.RetryAfterSeconds)
	s.Nil(res.Payload)
}

func (s *PipelineSuite) TestUnauthenticatedStopsPipeline() {
	s.expectAdmitted()
	s.verifier.EXPECT().
		Verify(gomock.Any(), "token", s.now).
		Return(nil, dErrors.New(dErrors.CodeUnauthenticated, "credential expired"))

	res, err := s.gateway.Run(s.ctx(), s.request())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeUnauthenticated, res.Outcome)
}

// A denial for missing strong authentication must never reach the handler or
// the reveal stage.
func (s *PipelineSuite) TestUnauthorizedStopsPipeline() {
	s.expectAdmitted()
	s.verifier.EXPECT().
		Verify(gomock.Any(), "token", s.now).
		Return(s.identity(), nil)
	s.access.EXPECT().
		Evaluate(gomock.Any(), gomock.Any()).
		Return(&access.Decision{Reason: access.ReasonMFARequired}, nil)

	req := s.request()
	req.Handler = func(context.Context, *identity.Identity, domain.FieldSet, map[string]any) (map[string]any, error) {
		s.Fail("handler must not run for a denied request")
		return nil, nil
	}

	res, err := s.gateway.Run(s.ctx(), req)
	s.Require().NoError(err)
	s.Equal(domain.OutcomeUnauthorized, res.Outcome)
	s.Equal(access.ReasonMFARequired, res.Reason)
}

func (s *PipelineSuite) TestSuccessFlow() {
	visible := domain.NewFieldSet("mrn")

	s.expectAdmitted()
	s.verifier.EXPECT().
		Verify(gomock.Any(), "token", s.now).
		Return(s.identity(), nil)
	s.access.EXPECT().
		Evaluate(gomock.Any(), access.Request{
			Identity: s.identity(),
			Resource: "records/1",
			Class:    domain.ClassProtectedSubject,
			Action:   domain.ActionRead,
		}).
		Return(&access.Decision{Allowed: true, VisibleFields: visible}, nil)
	s.revealer.EXPECT().
		Reveal(gomock.Any(), "records/1", "user-1", map[string]any{"mrn": "sealed"}, visible).
		Return(map[string]any{"mrn": "MRN-1001"}, nil)

	var terminal audit.Record
	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec audit.Record) (*audit.Record, error) {
			terminal = rec
			return &rec, nil
		})

	res, err := s.gateway.Run(s.ctx(), s.request())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeAdmittedSuccess, res.Outcome)
	s.Equal(map[string]any{"mrn": "MRN-1001"}, res.Payload)

	s.Run("terminal audit record carries the request facts", func() {
		s.Equal(audit.ActionRequest, terminal.Action)
		s.Equal("user-1", terminal.SubjectID)
		s.Equal("sess-1", terminal.SessionID)
		s.Equal("records/1", terminal.Resource)
		s.Equal(domain.OutcomeAdmittedSuccess, terminal.Outcome)
		s.Equal("203.0.113.7", terminal.Origin)
		s.Equal([]string{"mrn"}, terminal.TouchedFields)
		s.Equal("req-1", terminal.RequestID)
	})
}

func (s *PipelineSuite) TestClientAbortBeforeAdmission() {
	ctx, cancel := context.WithCancel(s.ctx())
	cancel()

	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec audit.Record) (*audit.Record, error) {
			s.Equal(domain.OutcomeClientAborted, rec.Outcome)
			return &rec, nil
		})

	res, err := s.gateway.Run(ctx, s.request())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeClientAborted, res.Outcome)
	s.Equal("before-admission", res.Reason)
}

func (s *PipelineSuite) TestClientAbortAfterAdmission() {
	ctx, cancel := context.WithCancel(s.ctx())

	s.admitter.EXPECT().
		Admit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, admission.Request) (*admission.Result, error) {
			// The caller disconnects while admission is in flight; the request
			// stays charged.
			cancel()
			return &admission.Result{Allowed: true}, nil
		})
	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec audit.Record) (*audit.Record, error) {
			s.Equal(domain.OutcomeClientAborted, rec.Outcome)
			s.Equal("after-admission", rec.Reason)
			return &rec, nil
		})

	res, err := s.gateway.Run(ctx, s.request())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeClientAborted, res.Outcome)
}

func (s *PipelineSuite) TestAdmitterFailureIsFatal() {
	cause := dErrors.New(dErrors.CodeSinkUnavailable, "counter store down")
	s.admitter.EXPECT().
		Admit(gomock.Any(), gomock.Any()).
		Return(nil, cause)
	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec audit.Record) (*audit.Record, error) {
			s.Equal(domain.OutcomeInternalFatal, rec.Outcome)
			s.Equal(audit.SeverityCritical, rec.Severity)
			return &rec, nil
		})

	res, err := s.gateway.Run(s.ctx(), s.request())
	s.Require().Error(err)
	s.Nil(res)
	s.Equal(dErrors.CodeSinkUnavailable, dErrors.CodeOf(err))
}

// A request for a missing resource cleared admission, authentication and
// authorization, so it must leave a terminal audit entry before the error
// propagates.
func (s *PipelineSuite) TestHandlerNotFoundIsAudited() {
	s.expectAdmitted()
	s.verifier.EXPECT().
		Verify(gomock.Any(), "token", s.now).
		Return(s.identity(), nil)
	s.access.EXPECT().
		Evaluate(gomock.Any(), gomock.Any()).
		Return(&access.Decision{Allowed: true, VisibleFields: domain.NewFieldSet()}, nil)

	var terminal audit.Record
	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec audit.Record) (*audit.Record, error) {
			terminal = rec
			return &rec, nil
		})

	req := s.request()
	req.Handler = func(context.Context, *identity.Identity, domain.FieldSet, map[string]any) (map[string]any, error) {
		return nil, dErrors.New(dErrors.CodeNotFound, "record missing")
	}

	res, err := s.gateway.Run(s.ctx(), req)
	s.Require().Error(err)
	s.Nil(res)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))

	s.Equal(audit.ActionRequest, terminal.Action)
	s.Equal(domain.OutcomeNotFound, terminal.Outcome)
	s.Equal("user-1", terminal.SubjectID)
	s.Equal("sess-1", terminal.SessionID)
	s.Equal("records/1", terminal.Resource)
	s.Equal(string(dErrors.CodeNotFound), terminal.Reason)
}

func (s *PipelineSuite) TestHandlerNotFoundAuditFailureFailsClosed() {
	s.expectAdmitted()
	s.verifier.EXPECT().
		Verify(gomock.Any(), "token", s.now).
		Return(s.identity(), nil)
	s.access.EXPECT().
		Evaluate(gomock.Any(), gomock.Any()).
		Return(&access.Decision{Allowed: true, VisibleFields: domain.NewFieldSet()}, nil)
	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeSinkUnavailable, "audit append failed"))

	req := s.request()
	req.Handler = func(context.Context, *identity.Identity, domain.FieldSet, map[string]any) (map[string]any, error) {
		return nil, dErrors.New(dErrors.CodeNotFound, "record missing")
	}

	_, err := s.gateway.Run(s.ctx(), req)
	s.Require().Error(err)
	s.Equal(dErrors.CodeSinkUnavailable, dErrors.CodeOf(err))
}

func (s *PipelineSuite) TestAuditFailureOnSuccessFailsClosed() {
	visible := domain.NewFieldSet("mrn")

	s.expectAdmitted()
	s.verifier.EXPECT().
		Verify(gomock.Any(), "token", s.now).
		Return(s.identity(), nil)
	s.access.EXPECT().
		Evaluate(gomock.Any(), gomock.Any()).
		Return(&access.Decision{Allowed: true, VisibleFields: visible}, nil)
	s.revealer.EXPECT().
		Reveal(gomock.Any(), "records/1", "user-1", gomock.Any(), visible).
		Return(map[string]any{"mrn": "MRN-1001"}, nil)
	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeSinkUnavailable, "audit append failed"))

	res, err := s.gateway.Run(s.ctx(), s.request())
	s.Require().Error(err)
	s.Nil(res)
	s.Equal(dErrors.CodeSinkUnavailable, dErrors.CodeOf(err))
}

func (s *PipelineSuite) TestNewValidation() {
	_, err := New(nil, s.verifier, s.access, s.revealer, s.recorder)
	s.Error(err)

	_, err = New(s.admitter, s.verifier, s.access, s.revealer, nil)
	s.Error(err)
}

func (s *PipelineSuite) TestVerifierInternalErrorIsFatal() {
	s.expectAdmitted()
	cause := errors.New("unexpected")
	s.verifier.EXPECT().
		Verify(gomock.Any(), "token", s.now).
		Return(nil, cause)
	s.recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec audit.Record) (*audit.Record, error) {
			s.Equal(domain.OutcomeInternalFatal, rec.Outcome)
			return &rec, nil
		})

	res, err := s.gateway.Run(s.ctx(), s.request())
	s.Require().Error(err)
	s.Nil(res)
}
