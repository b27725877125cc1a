package domain

// Outcome is the fixed taxonomy of terminal gatekeeper results. Every request
// maps to exactly one outcome and exactly one audit entry.
type Outcome string

const (
	OutcomeAdmittedSuccess Outcome = "admitted-success"
	OutcomeRateLimited     Outcome = "rate-limited"
	OutcomeUnauthenticated Outcome = "unauthenticated"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeInternalFatal   Outcome = "internal-fatal"
	// OutcomeNotFound marks requests that cleared every gate but asked for a
	// resource that does not exist. Recorded so enumeration attempts against
	// resource ids leave a trail.
	OutcomeNotFound Outcome = "not-found"
	// OutcomeClientAborted marks requests cancelled by the caller after
	// admission; the rate-limit slot stays consumed and the abort is audited.
	OutcomeClientAborted Outcome = "client-aborted"
)

func (o Outcome) String() string { return string(o) }
