// Package audit provides the append-only, tamper-evident trail behind every
// gatekeeper decision. Records are integrity-tagged at append time and each
// one can be independently re-verified, so any decision (allow, deny, mask)
// is reconstructable from its record alone.
package audit

import (
	"time"

	"github.com/google/uuid"

	"vida-gateway/pkg/domain"
)

// Severity levels for audit records, used for SIEM routing on export.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Actions recorded by the gateway. The set is append-only; consumers filter
// on these strings.
const (
	ActionCredentialVerify = "credential.verify"
	ActionAccessEvaluate   = "access.evaluate"
	ActionAdmission        = "admission.check"
	ActionThreatSignal     = "threat.signal"
	ActionGlobalProtection = "admission.global_protection"
	ActionFieldReveal      = "field.reveal"
	ActionFieldIntegrity   = "field.integrity_failure"
	ActionRequest          = "gateway.request"
	ActionLegalHoldDelete  = "audit.legal_hold_delete"
)

// Record is one immutable audit entry. Required elements follow the export
// contract: identity id, timestamp, action, resource, outcome, origin,
// session id, touched fields. IntegrityTag is computed over the canonical
// serialization of those elements and detects any later alteration.
type Record struct {
	ID             uuid.UUID      `json:"id"`
	SubjectID      string         `json:"subject_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Action         string         `json:"action"`
	Resource       string         `json:"resource"`
	Outcome        domain.Outcome `json:"outcome"`
	Origin         string         `json:"origin"`
	SessionID      string         `json:"session_id"`
	TouchedFields  []string       `json:"touched_fields,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Severity       Severity       `json:"severity"`
	RequestID      string         `json:"request_id,omitempty"`
	RetentionUntil time.Time      `json:"retention_until"`
	IntegrityTag   string         `json:"integrity_tag"`
}

// Filter narrows a Query. Zero values mean "any". Limit defaults to 100 and
// is capped at 1000 per page.
type Filter struct {
	From      time.Time
	To        time.Time
	SubjectID string
	Action    string
	Outcome   domain.Outcome
	Severity  Severity
	Limit     int
	Offset    int
}

// LegalHold authorizes deletion of a record inside its retention period. The
// override itself is audited before the deletion happens.
type LegalHold struct {
	CaseID       string
	AuthorizedBy string
}
