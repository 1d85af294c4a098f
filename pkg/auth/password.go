package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	TokenKeyLength    = 32 // 256 bits
	MinPasswordLen    = 8
	MaxPasswordLen    = 128
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	// Return generic error to users - never expose specific requirements to prevent enumeration attacks
	return "invalid password"
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

// BcryptHasher is the one-way hash used for both passwords and device
// fingerprints. Input is pre-digested with SHA-256 so values longer than
// bcrypt's 72-byte limit are hashed in full.
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("value to hash cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword(prehash(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash value: %w", err)
	}
	return string(hashedBytes), nil
}

// Matches reports whether plain hashes to digest. Blank input never matches.
func (h *BcryptHasher) Matches(plain, digest string) bool {
	if plain == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(plain)) == nil
}

func prehash(plain string) []byte {
	sum := sha256.Sum256([]byte(plain))
	return []byte(hex.EncodeToString(sum[:]))
}

// SHA256Hex returns the lowercase hex SHA-256 of s. Used for values that must
// be looked up by digest (reset tokens) or compared cheaply (token claims).
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// GenerateTokenKey returns 256 random bits, URL-safe base64 encoded
func GenerateTokenKey() (string, error) {
	bytes := make([]byte, TokenKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateNumericCode returns a uniformly random decimal code of n digits,
// zero padded
func GenerateNumericCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("code length must be positive")
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}

// ValidatePassword enforces strong password requirements
func ValidatePassword(password string) error {
	errors := make([]string, 0)

	// Check length
	if len(password) < MinPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	// Check character requirements
	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, "must contain at least one uppercase letter")
	}
	if !hasLower {
		errors = append(errors, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		errors = append(errors, "must contain at least one digit")
	}
	if !hasSpecial {
		errors = append(errors, "must contain at least one special character")
	}

	// Check against common passwords (case-insensitive)
	if commonPasswords[strings.ToLower(password)] {
		errors = append(errors, "is too common, please choose a more unique password")
	}

	if len(errors) > 0 {
		return &PasswordValidationError{Errors: errors}
	}

	return nil
}
