// Package admission is the concurrency-heavy core of the gatekeeper: tiered
// fixed-window rate limiting with burst control, anomaly detection over a
// trailing signal window, and a global protection ladder for DDoS mitigation.
// All mutable state lives in the counter and signal stores, so the controller
// itself scales horizontally.
package admission

// Rejection reasons, recorded verbatim in the audit trail.
const (
	ReasonMinuteLimit       = "minute-limit"
	ReasonHourLimit         = "hour-limit"
	ReasonBurstLimit        = "burst-limit"
	ReasonGlobalRestrictive = "global-restrictive"
	ReasonGlobalEmergency   = "global-emergency"
)

// Threat heuristic kinds.
const (
	SignalResourceDiversity = "resource-diversity"
	SignalRepeatResource    = "repeat-resource"
)

// ProtectionLevel is the global DDoS posture. Levels are totally ordered and
// transitions are monotonic within a minute window.
type ProtectionLevel int

const (
	LevelNormal ProtectionLevel = iota
	LevelElevated
	LevelRestrictive
	LevelEmergency
)

func (l ProtectionLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelElevated:
		return "elevated"
	case LevelRestrictive:
		return "restrictive"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Result is the admission decision for one request.
type Result struct {
	Allowed bool
	// RetryAfterSeconds is the caller-facing retry delay on rejection,
	// rounded up so a positive delay never truncates to zero.
	RetryAfterSeconds int
	Reason            string
	Level             ProtectionLevel
	// Signals lists anomaly heuristics that fired while admitting this
	// request. A firing signal never rejects the request that raised it.
	Signals []string
}
