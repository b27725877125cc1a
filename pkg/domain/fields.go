package domain

// FieldClass groups protected fields by the kind of data they carry. The
// field guard picks a fixed mask token per class so masked responses keep a
// stable, type-appropriate shape.
type FieldClass string

const (
	FieldClassIdentifier FieldClass = "identifier"
	FieldClassContact    FieldClass = "contact"
	FieldClassDate       FieldClass = "date"
	FieldClassFreeText   FieldClass = "free-text"
)

// ProtectedField names a payload field that is independently encrypted and
// masked.
type ProtectedField struct {
	Name  string
	Class FieldClass
}

// ProtectedFields is the canonical registry of protected fields. The keyring
// derives one key per entry at startup; the access evaluator and field guard
// both consult this set, so a field added here is protected everywhere.
var ProtectedFields = []ProtectedField{
	{Name: "identifier_number", Class: FieldClassIdentifier},
	{Name: "mrn", Class: FieldClassIdentifier},
	{Name: "ssn", Class: FieldClassIdentifier},
	{Name: "contact_phone", Class: FieldClassContact},
	{Name: "contact_email", Class: FieldClassContact},
	{Name: "address", Class: FieldClassContact},
	{Name: "date_of_birth", Class: FieldClassDate},
	{Name: "admission_date", Class: FieldClassDate},
	{Name: "clinical_notes", Class: FieldClassFreeText},
	{Name: "discharge_summary", Class: FieldClassFreeText},
}

// FieldSet is a set of protected field names.
type FieldSet map[string]struct{}

// NewFieldSet builds a set from field names.
func NewFieldSet(names ...string) FieldSet {
	s := make(FieldSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Intersect returns the fields present in both sets.
func (s FieldSet) Intersect(other FieldSet) FieldSet {
	out := make(FieldSet)
	for n := range s {
		if other.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// Names returns the member names in unspecified order.
func (s FieldSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	return out
}

// ProtectedFieldClass looks up the class for a protected field name. The
// second return is false for names outside the registry.
func ProtectedFieldClass(name string) (FieldClass, bool) {
	for _, f := range ProtectedFields {
		if f.Name == name {
			return f.Class, true
		}
	}
	return "", false
}
