package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
)

// TokenCodec signs and parses HS256 bearer tokens. The shared secret lives in
// a memguard enclave and is only decrypted for the duration of a sign or
// verify call.
type TokenCodec struct {
	key *memguard.Enclave
	ttl time.Duration
	now func() time.Time
}

// IssuedToken is a freshly signed token and the values embedded in it
type IssuedToken struct {
	Token     string
	JTI       uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewTokenCodec seals secret into an enclave. The secret slice is wiped.
func NewTokenCodec(secret []byte, ttl time.Duration) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &TokenCodec{
		key: memguard.NewEnclave(secret),
		ttl: ttl,
		now: time.Now,
	}, nil
}

// FingerprintDigest is the value carried in the fp claim
func FingerprintDigest(fingerprint string) string {
	return pkgauth.SHA256Hex(fingerprint)
}

// Issue creates a token for the account bound to the presented fingerprint
func (c *TokenCodec) Issue(accountID uuid.UUID, fingerprint string) (*IssuedToken, error) {
	now := c.now().UTC().Truncate(time.Second)
	jti := uuid.New()
	expiresAt := now.Add(c.ttl)

	claims := &models.TokenClaims{
		Fingerprint: FingerprintDigest(fingerprint),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	buf, err := c.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open signing key: %w", err)
	}
	defer buf.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &IssuedToken{Token: signed, JTI: jti, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Parse verifies the token. An expired token with a valid signature returns
// its claims together with models.ErrTokenExpired so the caller can close the
// session it names. Any other failure returns models.ErrTokenInvalid.
func (c *TokenCodec) Parse(tokenString string) (*models.TokenClaims, error) {
	if tokenString == "" {
		return nil, models.ErrTokenInvalid
	}

	buf, err := c.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open signing key: %w", err)
	}
	defer buf.Destroy()

	claims := &models.TokenClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return buf.Bytes(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if _, idErr := claims.JTI(); idErr != nil {
			return nil, models.ErrTokenInvalid
		}
		return claims, models.ErrTokenExpired
	default:
		return nil, models.ErrTokenInvalid
	}

	if _, err := claims.JTI(); err != nil {
		return nil, models.ErrTokenInvalid
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}
