// Package identity verifies bearer credentials and carries the resulting
// caller identity through the request.
package identity

import (
	"github.com/golang-jwt/jwt/v5"

	"vida-gateway/pkg/domain"
)

// Identity is the verified caller for one request. Immutable after
// verification and never persisted beyond the request.
type Identity struct {
	SubjectID  string
	SessionID  string
	Roles      []domain.Role
	Purpose    domain.Purpose
	StrongAuth bool
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role domain.Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claims is the JWT claim set carried by gateway credentials.
type Claims struct {
	SessionID  string   `json:"session_id"`
	Roles      []string `json:"roles"`
	Purpose    string   `json:"purpose"`
	StrongAuth bool     `json:"strong_auth"`
	jwt.RegisteredClaims
}
