package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClaims is the bearer token payload. Subject carries the account id and
// ID the jti.
type TokenClaims struct {
	// Fingerprint is the hex SHA-256 of the device fingerprint presented at
	// issuance
	Fingerprint string `json:"fp"`
	jwt.RegisteredClaims
}

// LoginRequest is the input to the login use case
type LoginRequest struct {
	Identifier string
	Password   string
	Device     DeviceInfo
	IPAddress  string
	UserAgent  string
}

// IssuedSession is returned by successful login and device recovery
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
	SessionID uuid.UUID
	AccountID uuid.UUID
}

// JTI parses the token id claim
func (c *TokenClaims) JTI() (uuid.UUID, error) {
	return uuid.Parse(c.ID)
}

// AccountID parses the subject claim
func (c *TokenClaims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}
