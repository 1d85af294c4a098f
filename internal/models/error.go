package models

import "errors"

// Sentinel errors for storage-level failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication outcomes. Compare with errors.Is; the match is by reason code,
// so an *AuthError carrying extra detail (remaining attempts) still matches.
var (
	ErrInvalidInput        = NewAuthError(ReasonInvalidInput)
	ErrBadCredentials      = NewAuthError(ReasonBadCredentials)
	ErrUserNotFound        = NewAuthError(ReasonUserNotFound)
	ErrAccountNotFound     = NewAuthError(ReasonAccountNotFound)
	ErrEmailNotVerified    = NewAuthError(ReasonEmailNotVerified)
	ErrAccountBlocked      = NewAuthError(ReasonAccountBlocked)
	ErrDeviceRequired      = NewAuthError(ReasonDeviceRequired)
	ErrDeviceUnauthorized  = NewAuthError(ReasonDeviceUnauthorized)
	ErrTokenExpired        = NewAuthError(ReasonTokenExpired)
	ErrTokenInvalid        = NewAuthError(ReasonTokenInvalid)
	ErrTokenClosed         = NewAuthError(ReasonTokenClosed)
	ErrSessionNotFound     = NewAuthError(ReasonSessionNotFound)
	ErrSessionExpired      = NewAuthError(ReasonSessionExpired)
	ErrSessionInactive     = NewAuthError(ReasonSessionInactive)
	ErrRecoveryInvalid     = NewAuthError(ReasonRecoveryInvalid)
	ErrRecoveryExpired     = NewAuthError(ReasonRecoveryExpired)
	ErrCodeInvalid         = NewAuthError(ReasonCodeInvalid)
	ErrFingerprintMismatch = NewAuthError(ReasonFingerprintMismatch)
	ErrResetTokenInvalid   = NewAuthError(ReasonResetTokenInvalid)
	ErrWeakPassword        = NewAuthError(ReasonWeakPassword)
)

// AuthError is the typed failure returned across service boundaries for
// expected authentication outcomes.
type AuthError struct {
	Reason Reason
	// Remaining is set on BAD_CREDENTIALS to surface the attempts left in
	// the lockout window. Nil when not applicable.
	Remaining *int
}

// NewAuthError creates an AuthError for the given reason
func NewAuthError(reason Reason) *AuthError {
	return &AuthError{Reason: reason}
}

// WithRemaining returns a copy carrying the remaining-attempts count
func (e *AuthError) WithRemaining(n int) *AuthError {
	return &AuthError{Reason: e.Reason, Remaining: &n}
}

func (e *AuthError) Error() string {
	return e.Reason.Message()
}

// Is reports whether target is an AuthError with the same reason
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf extracts the reason code from err. ok is false when err is not an
// AuthError.
func ReasonOf(err error) (Reason, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason, true
	}
	return "", false
}
