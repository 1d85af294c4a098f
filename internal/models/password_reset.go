package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordReset is a single-use emailed token that lets the account holder set
// a new password and clears a lockout
type PasswordReset struct {
	ID        uuid.UUID  `db:"id"`
	AccountID uuid.UUID  `db:"account_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

func (p *PasswordReset) IsUsable(now time.Time) bool {
	return p.UsedAt == nil && !now.After(p.ExpiresAt)
}
