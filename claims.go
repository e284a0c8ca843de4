package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the typ claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims are the JWT claims of access and refresh tokens. They
// carry no profile or role data, the subject is resolved on every request.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
	// Version is only set on refresh tokens and must match the account's
	// token version for the token to be accepted.
	Version int `json:"ver,omitempty"`
}

// AccountID parses the subject
func (c *Claims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

func (c *Claims) IsAccess() bool  { return c.Type == TokenTypeAccess }
func (c *Claims) IsRefresh() bool { return c.Type == TokenTypeRefresh }

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
