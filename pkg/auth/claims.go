package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes recognised by the API.
const (
	ScopeFeesRead    = "fees:read"
	ScopeFeesManage  = "fees:manage"
	ScopeFeesCollect = "fees:collect"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   string
	Scopes []string
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to clients. Role is the
// staff role the identity platform assigned, carried through to audit trails.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role,omitempty"`
	Scopes []string  `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants the named scope.
func (c *AccessTokenClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
