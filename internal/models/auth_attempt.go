package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthAttempt is an append-only authentication fact. Rows are never updated
// except for detaching device_id when the referenced device is deleted.
type AuthAttempt struct {
	ID                  uuid.UUID  `db:"id"`
	AccountID           *uuid.UUID `db:"account_id"`
	DeviceID            *uuid.UUID `db:"device_id"`
	SessionID           *uuid.UUID `db:"session_id"`
	FingerprintSnapshot string     `db:"fingerprint_snapshot"`
	Success             bool       `db:"success"`
	Reason              Reason     `db:"reason"`
	IPAddress           string     `db:"ip_address"`
	UserAgent           string     `db:"user_agent"`
	AttemptedAt         time.Time  `db:"attempted_at"`
}
