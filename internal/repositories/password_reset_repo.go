package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

// PasswordResetRepository handles password reset token data access. Only the
// SHA-256 of a token is stored.
type PasswordResetRepository struct {
	db *database.DB
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

func scanResetRow(row rowScanner) (*models.PasswordReset, error) {
	var p models.PasswordReset
	err := row.Scan(&p.ID, &p.AccountID, &p.TokenHash, &p.ExpiresAt, &p.UsedAt, &p.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &p, nil
}

func (r *PasswordResetRepository) Create(ctx context.Context, reset *models.PasswordReset) error {
	if reset.ID == uuid.Nil {
		reset.ID = uuid.New()
	}

	query := `
		INSERT INTO password_resets (id, account_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		reset.ID, reset.AccountID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create password reset: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	query := `
		SELECT id, account_id, token_hash, expires_at, used_at, created_at
		FROM password_resets WHERE token_hash = $1
	`
	return scanResetRow(r.db.Querier(ctx).QueryRow(ctx, query, tokenHash))
}

// MarkUsed consumes the token. It reports false when it was already used.
func (r *PasswordResetRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE password_resets SET used_at = $2 WHERE id = $1 AND used_at IS NULL`

	result, err := r.db.Querier(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark password reset used: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// InvalidateForAccount marks every unused token of the account as used
func (r *PasswordResetRepository) InvalidateForAccount(ctx context.Context, accountID uuid.UUID, at time.Time) error {
	query := `UPDATE password_resets SET used_at = $2 WHERE account_id = $1 AND used_at IS NULL`
	if _, err := r.db.Querier(ctx).Exec(ctx, query, accountID, at); err != nil {
		return fmt.Errorf("failed to invalidate password resets: %w", err)
	}
	return nil
}

// DeleteExpiredBefore removes reset tokens that expired before cutoff
func (r *PasswordResetRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM password_resets WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired password resets: %w", err)
	}
	return result.RowsAffected(), nil
}
