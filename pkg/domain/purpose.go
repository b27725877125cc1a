package domain

import dErrors "vida-gateway/pkg/domain-errors"

// Purpose identifies the declared purpose of use for a request. Access is
// narrowed to the fields required for the declared purpose (minimum
// necessary), so the purpose is part of every access decision.
type Purpose string

const (
	PurposeTreatment    Purpose = "treatment"
	PurposeCoordination Purpose = "coordination"
	PurposeBilling      Purpose = "billing"
	PurposeOperations   Purpose = "operations"
	PurposeResearch     Purpose = "research"
)

// Purposes is the single source of truth for valid purposes, in stable order.
var Purposes = []Purpose{PurposeTreatment, PurposeCoordination, PurposeBilling, PurposeOperations, PurposeResearch}

var validPurposes = map[Purpose]bool{
	PurposeTreatment:    true,
	PurposeCoordination: true,
	PurposeBilling:      true,
	PurposeOperations:   true,
	PurposeResearch:     true,
}

// ParsePurpose constructs a Purpose from external input (header or claim).
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !p.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown purpose %q", s)
	}
	return p, nil
}

// IsValid checks if the purpose is one of the supported enum values.
func (p Purpose) IsValid() bool {
	return validPurposes[p]
}

func (p Purpose) String() string { return string(p) }
