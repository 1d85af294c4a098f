package models

import (
	"time"

	"github.com/google/uuid"
)

type RecoveryStatus string

const (
	RecoveryStatusPending  RecoveryStatus = "PENDING"
	RecoveryStatusVerified RecoveryStatus = "VERIFIED"
	RecoveryStatusExpired  RecoveryStatus = "EXPIRED"
)

// DeviceRecovery is a one-time challenge for re-binding a device.
// The code and fingerprint are stored hashed.
type DeviceRecovery struct {
	ID              uuid.UUID      `db:"id"`
	AccountID       uuid.UUID      `db:"account_id"`
	FingerprintHash string         `db:"fingerprint_hash"`
	CodeHash        string         `db:"code_hash"`
	Status          RecoveryStatus `db:"status"`
	FailedAttempts  int            `db:"failed_attempts"`
	RequestedAt     time.Time      `db:"requested_at"`
	ExpiresAt       time.Time      `db:"expires_at"`
	VerifiedAt      *time.Time     `db:"verified_at"`
}

func (r *DeviceRecovery) IsPending() bool {
	return r.Status == RecoveryStatusPending
}

// IsExpiredAt checks expiry against the supplied clock reading
func (r *DeviceRecovery) IsExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
