package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

// SessionRepository persists sessions keyed by token jti. State changes are
// conditional on status = 'ACTIVE' so a CLOSED row is never written again.
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, jti, account_id, device_id, fingerprint_snapshot, created_at,
	last_activity_at, absolute_expires_at, token_expires_at, status, closed_at, close_reason`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.JTI, &s.AccountID, &s.DeviceID, &s.FingerprintSnapshot, &s.CreatedAt,
		&s.LastActivityAt, &s.AbsoluteExpiresAt, &s.TokenExpiresAt, &s.Status, &s.ClosedAt, &s.CloseReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	query := `
		INSERT INTO sessions (id, jti, account_id, device_id, fingerprint_snapshot, created_at,
			last_activity_at, absolute_expires_at, token_expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		s.ID, s.JTI, s.AccountID, s.DeviceID, s.FingerprintSnapshot, s.CreatedAt,
		s.LastActivityAt, s.AbsoluteExpiresAt, s.TokenExpiresAt, s.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", database.MapPostgresError(err))
	}
	return nil
}

// GetByJTI returns the session in any status
func (r *SessionRepository) GetByJTI(ctx context.Context, jti uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE jti = $1`
	return scanSessionRow(r.db.Querier(ctx).QueryRow(ctx, query, jti))
}

// GetActiveByJTI returns the session only while it is ACTIVE
func (r *SessionRepository) GetActiveByJTI(ctx context.Context, jti uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE jti = $1 AND status = 'ACTIVE'`
	return scanSessionRow(r.db.Querier(ctx).QueryRow(ctx, query, jti))
}

// UpdateLastActivity moves the inactivity anchor forward. It reports false
// when the session is no longer ACTIVE or the anchor is already at or past at.
func (r *SessionRepository) UpdateLastActivity(ctx context.Context, jti uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE sessions SET last_activity_at = $2
		WHERE jti = $1 AND status = 'ACTIVE' AND last_activity_at < $2
	`

	result, err := r.db.Querier(ctx).Exec(ctx, query, jti, at)
	if err != nil {
		return false, fmt.Errorf("failed to update session activity: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Close transitions an ACTIVE session to CLOSED. It reports false when the
// session was already closed or does not exist.
func (r *SessionRepository) Close(ctx context.Context, jti uuid.UUID, closedAt time.Time, reason models.SessionCloseReason) (bool, error) {
	query := `
		UPDATE sessions SET status = 'CLOSED', closed_at = $2, close_reason = $3
		WHERE jti = $1 AND status = 'ACTIVE'
	`

	result, err := r.db.Querier(ctx).Exec(ctx, query, jti, closedAt, reason)
	if err != nil {
		return false, fmt.Errorf("failed to close session: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CloseExpired closes every ACTIVE session past its absolute expiry, stamping
// closed_at with the expiry instant. Only sessions whose token has also
// expired are swept; a live token keeps its session for the gate to close.
func (r *SessionRepository) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET status = 'CLOSED', closed_at = absolute_expires_at, close_reason = 'EXPIRED'
		WHERE status = 'ACTIVE' AND absolute_expires_at < $1 AND token_expires_at < $1
	`

	result, err := r.db.Querier(ctx).Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to close expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// CloseIdle closes every ACTIVE session with no activity for longer than
// timeout and an expired token. closed_at is the instant the inactivity
// window ran out.
func (r *SessionRepository) CloseIdle(ctx context.Context, now time.Time, timeout time.Duration) (int64, error) {
	query := `
		UPDATE sessions
		SET status = 'CLOSED', closed_at = last_activity_at + $2::interval, close_reason = 'INACTIVE'
		WHERE status = 'ACTIVE' AND last_activity_at + $2::interval < $1 AND token_expires_at < $1
	`

	result, err := r.db.Querier(ctx).Exec(ctx, query, now, timeout)
	if err != nil {
		return 0, fmt.Errorf("failed to close idle sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
