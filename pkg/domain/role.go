package domain

import dErrors "vida-gateway/pkg/domain-errors"

// Role is a closed set of caller roles. Policy tables are checked against the
// full set at startup, so an unrecognized role is a construction error rather
// than a silent deny at request time.
//
// Usage: construct via ParseRole at trust boundaries; direct casting bypasses
// validation.
type Role string

const (
	RoleClinician Role = "clinician"
	RoleNurse     Role = "nurse"
	RoleAdmin     Role = "admin"
	RoleBilling   Role = "billing"
	RolePatient   Role = "patient"
	RoleSystem    Role = "system"
)

// Roles is the single source of truth for valid roles, in stable order.
var Roles = []Role{RoleClinician, RoleNurse, RoleAdmin, RoleBilling, RolePatient, RoleSystem}

var validRoles = map[Role]bool{
	RoleClinician: true,
	RoleNurse:     true,
	RoleAdmin:     true,
	RoleBilling:   true,
	RolePatient:   true,
	RoleSystem:    true,
}

// ParseRole constructs a Role from external input (token claims).
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown role %q", s)
	}
	return r, nil
}

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool {
	return validRoles[r]
}

func (r Role) String() string { return string(r) }
