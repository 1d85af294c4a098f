package models

import "net/http"

// Reason is the closed set of authentication outcome codes. Every reason is
// also what gets stored on an AuthAttempt row.
type Reason string

const (
	ReasonOK                  Reason = "OK"
	ReasonInvalidInput        Reason = "INVALID_INPUT"
	ReasonBadCredentials      Reason = "BAD_CREDENTIALS"
	ReasonUserNotFound        Reason = "USER_NOT_FOUND"
	ReasonAccountNotFound     Reason = "ACCOUNT_NOT_FOUND"
	ReasonEmailNotVerified    Reason = "EMAIL_NOT_VERIFIED"
	ReasonAccountBlocked      Reason = "ACCOUNT_BLOCKED"
	ReasonDeviceRequired      Reason = "DEVICE_REQUIRED"
	ReasonDeviceUnauthorized  Reason = "DEVICE_UNAUTHORIZED"
	ReasonTokenExpired        Reason = "TOKEN_EXPIRED"
	ReasonTokenInvalid        Reason = "TOKEN_INVALID"
	ReasonTokenClosed         Reason = "TOKEN_CLOSED"
	ReasonSessionNotFound     Reason = "SESSION_NOT_FOUND"
	ReasonSessionExpired      Reason = "SESSION_EXPIRED"
	ReasonSessionInactive     Reason = "SESSION_INACTIVE"
	ReasonRecoveryInvalid     Reason = "RECOVERY_INVALID"
	ReasonRecoveryExpired     Reason = "RECOVERY_EXPIRED"
	ReasonCodeInvalid         Reason = "CODE_INVALID"
	ReasonFingerprintMismatch Reason = "FINGERPRINT_MISMATCH"
	ReasonResetTokenInvalid   Reason = "RESET_TOKEN_INVALID"
	ReasonWeakPassword        Reason = "WEAK_PASSWORD"
)

// Kind groups reasons into the error taxonomy
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindNotFound
	KindUnauthorized
	KindForbidden
)

type reasonInfo struct {
	kind    Kind
	status  int
	message string
}

var reasonTable = map[Reason]reasonInfo{
	ReasonInvalidInput:        {KindInvalidInput, http.StatusBadRequest, "Invalid input"},
	ReasonBadCredentials:      {KindUnauthorized, http.StatusUnauthorized, "Invalid credentials"},
	ReasonUserNotFound:        {KindNotFound, http.StatusNotFound, "User not found"},
	ReasonAccountNotFound:     {KindNotFound, http.StatusNotFound, "Account not found"},
	ReasonEmailNotVerified:    {KindForbidden, http.StatusForbidden, "Email address not verified"},
	ReasonAccountBlocked:      {KindForbidden, http.StatusForbidden, "Account is blocked"},
	ReasonDeviceRequired:      {KindForbidden, http.StatusForbidden, "No device is linked to this account"},
	ReasonDeviceUnauthorized:  {KindForbidden, http.StatusForbidden, "Device is not authorized for this account"},
	ReasonTokenExpired:        {KindUnauthorized, http.StatusUnauthorized, "Token has expired"},
	ReasonTokenInvalid:        {KindUnauthorized, http.StatusUnauthorized, "Token is invalid"},
	ReasonTokenClosed:         {KindUnauthorized, http.StatusUnauthorized, "Token session is closed"},
	ReasonSessionNotFound:     {KindNotFound, http.StatusUnauthorized, "Session not found"},
	ReasonSessionExpired:      {KindUnauthorized, http.StatusUnauthorized, "Session has expired"},
	ReasonSessionInactive:     {KindUnauthorized, http.StatusUnauthorized, "Session closed after inactivity"},
	ReasonRecoveryInvalid:     {KindNotFound, http.StatusBadRequest, "Recovery request is invalid"},
	ReasonRecoveryExpired:     {KindUnauthorized, http.StatusUnauthorized, "Recovery request has expired"},
	ReasonCodeInvalid:         {KindUnauthorized, http.StatusUnauthorized, "Recovery code is invalid"},
	ReasonFingerprintMismatch: {KindUnauthorized, http.StatusUnauthorized, "Device does not match the recovery request"},
	ReasonResetTokenInvalid:   {KindUnauthorized, http.StatusUnauthorized, "Reset token is invalid or expired"},
	ReasonWeakPassword:        {KindInvalidInput, http.StatusBadRequest, "Password does not meet policy"},
}

// Kind returns the taxonomy bucket of the reason
func (r Reason) Kind() Kind {
	if info, ok := reasonTable[r]; ok {
		return info.kind
	}
	return KindUnauthorized
}

// HTTPStatus returns the default response status for the reason.
// Unknown reasons fail closed with 401.
func (r Reason) HTTPStatus() int {
	if info, ok := reasonTable[r]; ok {
		return info.status
	}
	return http.StatusUnauthorized
}

// Message returns a client-safe description
func (r Reason) Message() string {
	if r == ReasonOK {
		return "ok"
	}
	if info, ok := reasonTable[r]; ok {
		return info.message
	}
	return "Authentication failed"
}

func (r Reason) String() string {
	return string(r)
}
