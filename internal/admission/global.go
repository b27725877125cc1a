package admission

import (
	"context"
	"strconv"
	"time"

	dErrors "vida-gateway/pkg/domain-errors"
)

// The global counter is coarser than per-identifier state: one counter per
// minute window across all identifiers. The protection level is derived from
// the current and previous windows rather than held in process memory, so
// every gateway instance computes the same level from the shared store:
//
//   - within a window the count only grows, so the derived level is monotonic;
//   - the previous window keeps the level raised until aggregate volume has
//     stayed below the threshold for one full window.
const globalKeyPrefix = "global:m:"

func globalKey(window time.Time) string {
	return globalKeyPrefix + strconv.FormatInt(window.Unix(), 10)
}

// observeGlobal charges the current request against the global counter and
// returns the derived protection level.
func (s *Service) observeGlobal(ctx context.Context, now time.Time) (ProtectionLevel, error) {
	current := now.Truncate(time.Minute)
	previous := current.Add(-time.Minute)

	count, _, err := s.counters.Incr(ctx, globalKey(current), 2*time.Minute)
	if err != nil {
		return LevelNormal, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "global counter unavailable")
	}
	prevCount, err := s.counters.Get(ctx, globalKey(previous))
	if err != nil {
		return LevelNormal, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "global counter unavailable")
	}

	level := s.stageFor(count)
	if prev := s.stageFor(prevCount); prev > level {
		level = prev
	}
	if s.metrics != nil {
		s.metrics.GlobalProtectionLevel.Set(float64(level))
	}
	return level, nil
}

// stageFor maps an aggregate per-minute volume to a protection stage.
func (s *Service) stageFor(count int64) ProtectionLevel {
	switch {
	case count >= int64(s.config.EmergencyThreshold):
		return LevelEmergency
	case count >= int64(s.config.RestrictiveThreshold):
		return LevelRestrictive
	case count >= int64(s.config.ElevatedThreshold):
		return LevelElevated
	default:
		return LevelNormal
	}
}

// allowUnderLevel applies the allow-list policy for restrictive and emergency
// stages. The active-session exemption only matters at restrictive, and only
// when the exemption knob is on.
func (s *Service) allowUnderLevel(ctx context.Context, level ProtectionLevel, identifier string, now time.Time) (allowed bool, reason string, err error) {
	switch level {
	case LevelEmergency:
		if s.allowlisted(identifier) {
			return true, "", nil
		}
		return false, ReasonGlobalEmergency, nil
	case LevelRestrictive:
		if s.allowlisted(identifier) {
			return true, "", nil
		}
		if s.config.ExemptActiveSessions {
			active, err := s.recentlyAdmitted(ctx, identifier, now)
			if err != nil {
				return false, "", err
			}
			if active {
				return true, "", nil
			}
		}
		return false, ReasonGlobalRestrictive, nil
	default:
		return true, "", nil
	}
}

// recentlyAdmitted reports whether the identifier had an admitted request in
// the trailing minute. Admitted requests leave a fingerprint in the signal
// store, so the exemption rests on store-backed evidence; a bearer header,
// forged or real, carries no weight here.
func (s *Service) recentlyAdmitted(ctx context.Context, identifier string, now time.Time) (bool, error) {
	window, err := s.signals.Window(ctx, identifier, now.Add(-time.Minute))
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeSinkUnavailable, "signal store unavailable")
	}
	return len(window) > 0, nil
}

func (s *Service) allowlisted(identifier string) bool {
	for _, entry := range s.config.AllowList {
		if entry == identifier {
			return true
		}
	}
	return false
}
