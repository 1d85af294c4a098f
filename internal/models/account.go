package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountStatus is the lifecycle state of an account
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	// AccountStatusInactive means locked; only password recovery or an
	// operator unlock moves it back to ACTIVE.
	AccountStatusInactive AccountStatus = "INACTIVE"
)

type Account struct {
	ID                uuid.UUID     `db:"id"`
	Email             string        `db:"email"`
	NationalID        *int64        `db:"national_id"`
	NationalIDCheck   *string       `db:"national_id_check"`
	Name              string        `db:"name"`
	PasswordHash      string        `db:"password_hash"`
	EmailVerified     bool          `db:"email_verified"`
	Status            AccountStatus `db:"status"`
	PasswordChangedAt *time.Time    `db:"password_changed_at"`
	CreatedAt         time.Time     `db:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// IsLocked reports whether the account has been blocked
func (a *Account) IsLocked() bool {
	return a.Status == AccountStatusInactive
}

// MatchesCheck compares the stored national-ID checksum character with c,
// ignoring case.
func (a *Account) MatchesCheck(c string) bool {
	if a.NationalIDCheck == nil {
		return false
	}
	return strings.EqualFold(*a.NationalIDCheck, c)
}
