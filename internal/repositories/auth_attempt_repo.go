package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuthAttemptRepository appends and counts auth_attempts rows. There is no
// update or delete method; rows are immutable once written.
type AuthAttemptRepository struct {
	db *database.DB
}

func NewAuthAttemptRepository(db *database.DB) *AuthAttemptRepository {
	return &AuthAttemptRepository{db: db}
}

// Record appends an attempt
func (r *AuthAttemptRepository) Record(ctx context.Context, attempt *models.AuthAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}

	query := `
		INSERT INTO auth_attempts (id, account_id, device_id, session_id, fingerprint_snapshot,
			success, reason, ip_address, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		attempt.ID,
		attempt.AccountID,
		attempt.DeviceID,
		attempt.SessionID,
		attempt.FingerprintSnapshot,
		attempt.Success,
		attempt.Reason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record auth attempt: %w", database.MapPostgresError(err))
	}
	return nil
}

// CountPasswordFailuresSince counts BAD_CREDENTIALS attempts for the account
// strictly after since
func (r *AuthAttemptRepository) CountPasswordFailuresSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM auth_attempts
		WHERE account_id = $1 AND reason = $2 AND attempted_at > $3
	`

	var count int
	if err := r.db.Querier(ctx).QueryRow(ctx, query, accountID, models.ReasonBadCredentials, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count auth failures: %w", err)
	}
	return count, nil
}

// LastSuccessAt returns the time of the most recent successful attempt, or nil
func (r *AuthAttemptRepository) LastSuccessAt(ctx context.Context, accountID uuid.UUID) (*time.Time, error) {
	query := `
		SELECT attempted_at FROM auth_attempts
		WHERE account_id = $1 AND success = true
		ORDER BY attempted_at DESC
		LIMIT 1
	`

	var at time.Time
	err := r.db.Querier(ctx).QueryRow(ctx, query, accountID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last success: %w", err)
	}
	return &at, nil
}

// ListByAccount returns the most recent attempts for an account, newest first
func (r *AuthAttemptRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.AuthAttempt, error) {
	query := `
		SELECT id, account_id, device_id, session_id, fingerprint_snapshot,
			success, reason, ip_address, user_agent, attempted_at
		FROM auth_attempts
		WHERE account_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*models.AuthAttempt, 0)
	for rows.Next() {
		var a models.AuthAttempt
		if err := rows.Scan(
			&a.ID, &a.AccountID, &a.DeviceID, &a.SessionID, &a.FingerprintSnapshot,
			&a.Success, &a.Reason, &a.IPAddress, &a.UserAgent, &a.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}
	return attempts, nil
}
