package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "ACTIVE"
	SessionStatusClosed SessionStatus = "CLOSED"
)

// SessionCloseReason records why a session left ACTIVE
type SessionCloseReason string

const (
	SessionCloseLogout         SessionCloseReason = "LOGOUT"
	SessionCloseExpired        SessionCloseReason = "EXPIRED"
	SessionCloseInactive       SessionCloseReason = "INACTIVE"
	SessionCloseDeviceReplaced SessionCloseReason = "DEVICE_REPLACED"
	SessionCloseDeviceUnlinked SessionCloseReason = "DEVICE_UNLINKED"
)

// Session is the server-side record of one issued token, keyed by its jti
type Session struct {
	ID                  uuid.UUID           `db:"id"`
	JTI                 uuid.UUID           `db:"jti"`
	AccountID           uuid.UUID           `db:"account_id"`
	DeviceID            *uuid.UUID          `db:"device_id"`
	FingerprintSnapshot string              `db:"fingerprint_snapshot"`
	CreatedAt           time.Time           `db:"created_at"`
	LastActivityAt      time.Time           `db:"last_activity_at"`
	AbsoluteExpiresAt   time.Time           `db:"absolute_expires_at"`
	TokenExpiresAt      time.Time           `db:"token_expires_at"`
	Status              SessionStatus       `db:"status"`
	ClosedAt            *time.Time          `db:"closed_at"`
	CloseReason         *SessionCloseReason `db:"close_reason"`
}

func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// InactiveDeadline is the instant the session dies if it sees no activity
func (s *Session) InactiveDeadline(timeout time.Duration) time.Time {
	return s.LastActivityAt.Add(timeout)
}
