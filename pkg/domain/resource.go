package domain

// ResourceClass describes the authorization nature of a resource. It is
// related to, but distinct from, Tier: the class drives policy (purpose fit,
// strong-authentication requirements) while the tier drives rate limiting.
type ResourceClass string

const (
	ClassStandard         ResourceClass = "standard"
	ClassProtectedSubject ResourceClass = "protected-subject"
	ClassAdministrative   ResourceClass = "administrative"
	ClassBulk             ResourceClass = "bulk"
)

// ResourceClasses is the single source of truth for valid classes, in stable
// order.
var ResourceClasses = []ResourceClass{ClassStandard, ClassProtectedSubject, ClassAdministrative, ClassBulk}

// IsValid checks if the class is one of the supported enum values.
func (c ResourceClass) IsValid() bool {
	switch c {
	case ClassStandard, ClassProtectedSubject, ClassAdministrative, ClassBulk:
		return true
	}
	return false
}

// Tier returns the rate-limit tier that admission applies to this class.
func (c ResourceClass) Tier() Tier {
	switch c {
	case ClassProtectedSubject:
		return TierProtectedResource
	case ClassAdministrative:
		return TierAdministrative
	case ClassBulk:
		return TierBulk
	default:
		return TierStandard
	}
}

func (c ResourceClass) String() string { return string(c) }
