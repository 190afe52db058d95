package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims is the read side of a verified session credential
type AuthClaims interface {
	Subject() string
	UserID() string
	Role() string
	Approved() bool
	Remember() bool
	Expires() time.Time
	IssuedAt() time.Time
}

// SessionClaims is the payload of a session credential. Role and Approved are
// snapshots taken at issue time and must not be trusted for authorization.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID        string `json:"uid,omitempty"`
	UserRole   string `json:"role,omitempty"`
	IsApproved bool   `json:"approved"`
	RememberMe bool   `json:"remember,omitempty"`
}

var _ AuthClaims = (*SessionClaims)(nil)

// Subject returns the subject claim
func (c *SessionClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *SessionClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Role returns the role snapshot
func (c *SessionClaims) Role() string {
	return c.UserRole
}

// Approved returns the approval snapshot
func (c *SessionClaims) Approved() bool {
	return c.IsApproved
}

// Remember reports whether the credential was issued with the extended lifetime
func (c *SessionClaims) Remember() bool {
	return c.RememberMe
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *SessionClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
