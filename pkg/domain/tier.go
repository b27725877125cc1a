package domain

// Tier names a rate-limit profile. Protected-resource and bulk tiers carry the
// strictest thresholds.
type Tier string

const (
	TierStandard          Tier = "standard"
	TierProtectedResource Tier = "protected-resource"
	TierAdministrative    Tier = "administrative"
	TierBulk              Tier = "bulk"
)

// Tiers is the single source of truth for valid tiers, in stable order.
var Tiers = []Tier{TierStandard, TierProtectedResource, TierAdministrative, TierBulk}

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	switch t {
	case TierStandard, TierProtectedResource, TierAdministrative, TierBulk:
		return true
	}
	return false
}

func (t Tier) String() string { return string(t) }
