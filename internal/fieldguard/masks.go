package fieldguard

import "vida-gateway/pkg/domain"

// Mask tokens per field class. Masked responses keep every field present with
// a stable, shape-preserving placeholder; a consumer can tell "hidden" from
// "absent".
const (
	maskIdentifier = "***-**-****"
	maskContact    = "[REDACTED CONTACT]"
	maskDate       = "****-**-**"
	maskFreeText   = "[REDACTED]"
)

// maskFor returns the placeholder for a field class.
func maskFor(class domain.FieldClass) string {
	switch class {
	case domain.FieldClassIdentifier:
		return maskIdentifier
	case domain.FieldClassContact:
		return maskContact
	case domain.FieldClassDate:
		return maskDate
	default:
		return maskFreeText
	}
}
