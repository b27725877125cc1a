package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vida-gateway/internal/admission/store/counter"
	"vida-gateway/internal/admission/store/signal"
	"vida-gateway/internal/audit"
	"vida-gateway/internal/platform/config"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
	"vida-gateway/pkg/requestcontext"
)

func testConfig() config.AdmissionConfig {
	tier := config.TierLimit{PerMinute: 5, PerHour: 100, Burst: 5, BurstEvery: 10 * time.Second}
	return config.AdmissionConfig{
		Standard:          tier,
		ProtectedResource: tier,
		Administrative:    tier,
		Bulk:              tier,

		SignalWindow:       5 * time.Minute,
		DiversityThreshold: 100,
		RepeatThreshold:    100,
		CooldownFactor:     0.5,
		CooldownDuration:   15 * time.Minute,

		ElevatedThreshold:    1000,
		RestrictiveThreshold: 2000,
		EmergencyThreshold:   3000,
	}
}

type ServiceSuite struct {
	suite.Suite
	auditStore *audit.InMemoryStore
	recorder   *audit.Recorder
	base       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.auditStore = audit.NewInMemoryStore()
	recorder, err := audit.NewRecorder(s.auditStore, "test-integrity-key", 24*time.Hour)
	s.Require().NoError(err)
	s.recorder = recorder
	s.base = time.Date(2026, 8, 31, 10, 30, 15, 0, time.UTC)
}

func (s *ServiceSuite) newService(cfg config.AdmissionConfig) *Service {
	svc, err := New(counter.NewInMemoryStore(), signal.NewInMemoryStore(), s.recorder, cfg)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) ctxAt(at time.Time) context.Context {
	ctx := requestcontext.WithClientIP(context.Background(), "203.0.113.7")
	return requestcontext.WithTime(ctx, at)
}

func (s *ServiceSuite) request(identifier string) Request {
	return Request{Identifier: identifier, Tier: domain.TierStandard, Resource: "records/1"}
}

func (s *ServiceSuite) auditedRejections(reason string) []audit.Record {
	recs, err := s.recorder.Query(context.Background(), audit.Filter{Action: audit.ActionAdmission})
	s.Require().NoError(err)
	var out []audit.Record
	for _, r := range recs {
		if r.Reason == reason {
			out = append(out, r)
		}
	}
	return out
}

func (s *ServiceSuite) TestNewValidation() {
	s.Run("nil counter store", func() {
		_, err := New(nil, signal.NewInMemoryStore(), s.recorder, testConfig())
		s.Error(err)
	})
	s.Run("nil signal store", func() {
		_, err := New(counter.NewInMemoryStore(), nil, s.recorder, testConfig())
		s.Error(err)
	})
	s.Run("nil recorder", func() {
		_, err := New(counter.NewInMemoryStore(), signal.NewInMemoryStore(), nil, testConfig())
		s.Error(err)
	})
}

func (s *ServiceSuite) TestMinuteLimit() {
	svc := s.newService(testConfig())
	ctx := s.ctxAt(s.base)

	for i := range 5 {
		res, err := svc.Admit(ctx, s.request("alice"))
		s.Require().NoError(err)
		s.True(res.Allowed, "request %d should be admitted", i+1)
	}

	res, err := svc.Admit(ctx, s.request("alice"))
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(ReasonMinuteLimit, res.Reason)
	// 15 seconds into the minute: 45 seconds until the next window.
	s.Equal(45, res.RetryAfterSeconds)

	s.Run("rejection is audited exactly once", func() {
		recs := s.auditedRejections(ReasonMinuteLimit)
		s.Require().Len(recs, 1)
		s.Equal("alice", recs[0].SubjectID)
		s.Equal(domain.OutcomeRateLimited, recs[0].Outcome)
		s.Equal(audit.SeverityWarning, recs[0].Severity)
	})

	s.Run("other identifiers are unaffected", func() {
		res, err := svc.Admit(ctx, s.request("bob"))
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("next minute window admits again", func() {
		res, err := svc.Admit(s.ctxAt(s.base.Add(time.Minute)), s.request("alice"))
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *ServiceSuite) TestBurstLimit() {
	cfg := testConfig()
	cfg.Standard.PerMinute = 100
	cfg.Standard.Burst = 3
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	for range 3 {
		res, err := svc.Admit(ctx, s.request("alice"))
		s.Require().NoError(err)
		s.True(res.Allowed)
	}

	res, err := svc.Admit(ctx, s.request("alice"))
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(ReasonBurstLimit, res.Reason)
	s.Positive(res.RetryAfterSeconds)
	s.LessOrEqual(res.RetryAfterSeconds, 10)

	s.Run("next burst slot admits again", func() {
		res, err := svc.Admit(s.ctxAt(s.base.Add(10*time.Second)), s.request("alice"))
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *ServiceSuite) TestHourLimit() {
	cfg := testConfig()
	cfg.Standard = config.TierLimit{PerMinute: 100, PerHour: 3, Burst: 100, BurstEvery: 10 * time.Second}
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	for range 3 {
		res, err := svc.Admit(ctx, s.request("alice"))
		s.Require().NoError(err)
		s.True(res.Allowed)
	}

	res, err := svc.Admit(ctx, s.request("alice"))
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(ReasonHourLimit, res.Reason)
	// 30m15s into the hour leaves 29m45s.
	s.Equal(29*60+45, res.RetryAfterSeconds)
}

// TestConcurrentAdmission drives many goroutines at one identifier and checks
// the limit is exact: admitted count equals the threshold, never more.
func (s *ServiceSuite) TestConcurrentAdmission() {
	cfg := testConfig()
	cfg.Standard = config.TierLimit{PerMinute: 10, PerHour: 1000, Burst: 1000, BurstEvery: 10 * time.Second}
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	const attempts = 40
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Admit(ctx, s.request("alice"))
			if s.NoError(err) && res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(10), admitted.Load())
	s.Len(s.auditedRejections(ReasonMinuteLimit), attempts-10)
}

func (s *ServiceSuite) TestDiversitySignal() {
	cfg := testConfig()
	cfg.Standard = config.TierLimit{PerMinute: 100, PerHour: 1000, Burst: 100, BurstEvery: 10 * time.Second}
	cfg.DiversityThreshold = 4
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	var last *Result
	for i := range 5 {
		res, err := svc.Admit(ctx, Request{
			Identifier: "scanner",
			Tier:       domain.TierStandard,
			Resource:   fmt.Sprintf("records/%d", i),
		})
		s.Require().NoError(err)
		s.True(res.Allowed)
		last = res
	}

	s.Run("signal fires on the request crossing the threshold", func() {
		s.Contains(last.Signals, SignalResourceDiversity)
	})

	s.Run("signal is audited as critical", func() {
		recs, err := s.recorder.Query(ctx, audit.Filter{Action: audit.ActionThreatSignal})
		s.Require().NoError(err)
		s.Require().Len(recs, 1)
		s.Equal(audit.SeverityCritical, recs[0].Severity)
		s.Equal(SignalResourceDiversity, recs[0].Reason)
	})

	s.Run("cooldown halves the effective limits", func() {
		// 5 requests used; halved minute limit is 50, so keep going until the
		// tightened threshold bites.
		var rejected *Result
		for i := range 50 {
			res, err := svc.Admit(ctx, Request{
				Identifier: "scanner",
				Tier:       domain.TierStandard,
				Resource:   "records/0",
			})
			s.Require().NoError(err)
			if !res.Allowed {
				rejected = res
				break
			}
			_ = i
		}
		s.Require().NotNil(rejected)
		s.Equal(ReasonMinuteLimit, rejected.Reason)
	})
}

func (s *ServiceSuite) TestRepeatSignal() {
	cfg := testConfig()
	cfg.Standard = config.TierLimit{PerMinute: 100, PerHour: 1000, Burst: 100, BurstEvery: 10 * time.Second}
	cfg.RepeatThreshold = 3
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	var last *Result
	for range 4 {
		res, err := svc.Admit(ctx, s.request("poller"))
		s.Require().NoError(err)
		s.True(res.Allowed)
		last = res
	}
	s.Contains(last.Signals, SignalRepeatResource)
}

func (s *ServiceSuite) TestGlobalProtectionLadder() {
	cfg := testConfig()
	cfg.Standard = config.TierLimit{PerMinute: 1000, PerHour: 10000, Burst: 1000, BurstEvery: 10 * time.Second}
	cfg.ElevatedThreshold = 4
	cfg.RestrictiveThreshold = 6
	cfg.EmergencyThreshold = 8
	cfg.AllowList = []string{"emergency-room"}
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	drive := func(identifier string, n int) *Result {
		var last *Result
		for range n {
			res, err := svc.Admit(ctx, s.request(identifier))
			s.Require().NoError(err)
			last = res
		}
		return last
	}

	s.Run("normal below the elevated threshold", func() {
		res := drive("a", 3)
		s.True(res.Allowed)
		s.Equal(LevelNormal, res.Level)
	})

	s.Run("elevated once aggregate volume crosses", func() {
		res := drive("b", 1)
		s.True(res.Allowed)
		s.Equal(LevelElevated, res.Level)
	})

	s.Run("restrictive rejects non-allowlisted identifiers", func() {
		drive("c", 1) // count 5, still elevated
		res := drive("d", 1)
		s.False(res.Allowed)
		s.Equal(LevelRestrictive, res.Level)
		s.Equal(ReasonGlobalRestrictive, res.Reason)
	})

	s.Run("restrictive admits allowlisted identifiers", func() {
		res := drive("emergency-room", 1)
		s.True(res.Allowed)
	})

	s.Run("emergency rejects everyone but the allow list", func() {
		drive("emergency-room", 1) // count 8: emergency
		res := drive("e", 1)
		s.False(res.Allowed)
		s.Equal(LevelEmergency, res.Level)
		s.Equal(ReasonGlobalEmergency, res.Reason)

		allowed := drive("emergency-room", 1)
		s.True(allowed.Allowed)
	})

	s.Run("previous window keeps the level raised", func() {
		res, err := svc.Admit(s.ctxAt(s.base.Add(time.Minute)), s.request("f"))
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(LevelEmergency, res.Level)
	})

	s.Run("level resets after a quiet full window", func() {
		res, err := svc.Admit(s.ctxAt(s.base.Add(3*time.Minute)), s.request("g"))
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(LevelNormal, res.Level)
	})
}

// The restrictive-stage exemption rests on store-backed evidence: only
// identifiers the signal store has seen admitted in the trailing minute pass.
// A newcomer is rejected no matter what credential material it attaches,
// since admission never reads the credential at all.
func (s *ServiceSuite) TestActiveSessionExemption() {
	cfg := testConfig()
	cfg.Standard = config.TierLimit{PerMinute: 1000, PerHour: 10000, Burst: 1000, BurstEvery: 10 * time.Second}
	cfg.ElevatedThreshold = 1
	cfg.RestrictiveThreshold = 4
	cfg.EmergencyThreshold = 1000
	cfg.ExemptActiveSessions = true
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	// An admission two minutes ago: outside the trailing minute at base.
	res, err := svc.Admit(s.ctxAt(s.base.Add(-2*time.Minute)), s.request("early"))
	s.Require().NoError(err)
	s.Require().True(res.Allowed)

	// Three admissions in the current window; the next request trips the
	// restrictive stage.
	for _, id := range []string{"a", "b", "c"} {
		res, err := svc.Admit(ctx, s.request(id))
		s.Require().NoError(err)
		s.Require().True(res.Allowed)
	}

	s.Run("recently admitted identifier passes at restrictive", func() {
		res, err := svc.Admit(ctx, s.request("a"))
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(LevelRestrictive, res.Level)
	})

	s.Run("newcomer is rejected", func() {
		res, err := svc.Admit(ctx, s.request("d"))
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(ReasonGlobalRestrictive, res.Reason)
	})

	s.Run("admission older than the trailing minute does not count", func() {
		res, err := svc.Admit(ctx, s.request("early"))
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(ReasonGlobalRestrictive, res.Reason)
	})
}

func (s *ServiceSuite) TestActiveSessionExemptionOffByDefault() {
	cfg := testConfig()
	cfg.Standard = config.TierLimit{PerMinute: 1000, PerHour: 10000, Burst: 1000, BurstEvery: 10 * time.Second}
	cfg.ElevatedThreshold = 1
	cfg.RestrictiveThreshold = 4
	cfg.EmergencyThreshold = 1000
	svc := s.newService(cfg)
	ctx := s.ctxAt(s.base)

	for _, id := range []string{"a", "b", "c"} {
		res, err := svc.Admit(ctx, s.request(id))
		s.Require().NoError(err)
		s.Require().True(res.Allowed)
	}

	// Recently admitted, but the knob is off: fail closed.
	res, err := svc.Admit(ctx, s.request("a"))
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(ReasonGlobalRestrictive, res.Reason)
}

// failingCounterStore simulates a lost shared store.
type failingCounterStore struct{}

func (failingCounterStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func (failingCounterStore) Get(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (s *ServiceSuite) TestFailClosedOnStoreFailure() {
	svc, err := New(failingCounterStore{}, signal.NewInMemoryStore(), s.recorder, testConfig())
	s.Require().NoError(err)

	res, err := svc.Admit(s.ctxAt(s.base), s.request("alice"))
	s.Require().Error(err)
	s.Nil(res)
	s.Equal(dErrors.CodeSinkUnavailable, dErrors.CodeOf(err))
}

// failingAuditStore simulates a lost audit sink.
type failingAuditStore struct{ audit.Store }

func (failingAuditStore) Append(context.Context, audit.Record) error {
	return errors.New("sink down")
}

func (s *ServiceSuite) TestFailClosedOnAuditFailure() {
	recorder, err := audit.NewRecorder(failingAuditStore{}, "key", time.Hour)
	s.Require().NoError(err)
	svc, err := New(counter.NewInMemoryStore(), signal.NewInMemoryStore(), recorder, testConfig())
	s.Require().NoError(err)
	ctx := s.ctxAt(s.base)

	// Admissions do not write audit entries, so they succeed.
	for range 5 {
		res, err := svc.Admit(ctx, s.request("alice"))
		s.Require().NoError(err)
		s.True(res.Allowed)
	}

	// The rejection must be audited; with the sink down the request fails
	// closed instead of returning an unaudited rejection.
	_, err = svc.Admit(ctx, s.request("alice"))
	s.Require().Error(err)
	s.Equal(dErrors.CodeSinkUnavailable, dErrors.CodeOf(err))
}
