package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

// DeviceRecoveryRepository persists device recovery challenges. Status
// transitions only leave PENDING, enforced by conditional updates.
type DeviceRecoveryRepository struct {
	db *database.DB
}

func NewDeviceRecoveryRepository(db *database.DB) *DeviceRecoveryRepository {
	return &DeviceRecoveryRepository{db: db}
}

const recoveryColumns = `id, account_id, fingerprint_hash, code_hash, status, failed_attempts,
	requested_at, expires_at, verified_at`

func scanRecoveryRow(scanner rowScanner) (*models.DeviceRecovery, error) {
	var rec models.DeviceRecovery
	err := scanner.Scan(
		&rec.ID, &rec.AccountID, &rec.FingerprintHash, &rec.CodeHash, &rec.Status,
		&rec.FailedAttempts, &rec.RequestedAt, &rec.ExpiresAt, &rec.VerifiedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

func (r *DeviceRecoveryRepository) Create(ctx context.Context, rec *models.DeviceRecovery) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO device_recoveries (id, account_id, fingerprint_hash, code_hash, status,
			failed_attempts, requested_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		rec.ID, rec.AccountID, rec.FingerprintHash, rec.CodeHash, rec.Status,
		rec.FailedAttempts, rec.RequestedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create device recovery: %w", database.MapPostgresError(err))
	}
	return nil
}

// GetPending returns the recovery only while it is PENDING
func (r *DeviceRecoveryRepository) GetPending(ctx context.Context, id uuid.UUID) (*models.DeviceRecovery, error) {
	query := `SELECT ` + recoveryColumns + ` FROM device_recoveries WHERE id = $1 AND status = 'PENDING'`
	return scanRecoveryRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

func (r *DeviceRecoveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceRecovery, error) {
	query := `SELECT ` + recoveryColumns + ` FROM device_recoveries WHERE id = $1`
	return scanRecoveryRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

// MarkVerified consumes a PENDING recovery. It reports false when another
// caller already consumed or expired it.
func (r *DeviceRecoveryRepository) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE device_recoveries SET status = 'VERIFIED', verified_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`

	result, err := r.db.Querier(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to verify device recovery: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkExpired moves a PENDING recovery to EXPIRED
func (r *DeviceRecoveryRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE device_recoveries SET status = 'EXPIRED' WHERE id = $1 AND status = 'PENDING'`
	if _, err := r.db.Querier(ctx).Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to expire device recovery: %w", err)
	}
	return nil
}

// ExpirePendingForAccount supersedes every outstanding request of the account
func (r *DeviceRecoveryRepository) ExpirePendingForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `UPDATE device_recoveries SET status = 'EXPIRED' WHERE account_id = $1 AND status = 'PENDING'`

	result, err := r.db.Querier(ctx).Exec(ctx, query, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending recoveries: %w", err)
	}
	return result.RowsAffected(), nil
}

// IncrementFailedAttempts records a wrong code and returns the new count.
// When the count reaches maxAttempts the row is expired in the same statement.
func (r *DeviceRecoveryRepository) IncrementFailedAttempts(ctx context.Context, id uuid.UUID, maxAttempts int) (int, error) {
	query := `
		UPDATE device_recoveries
		SET failed_attempts = failed_attempts + 1,
			status = CASE WHEN failed_attempts + 1 >= $2 THEN 'EXPIRED' ELSE status END
		WHERE id = $1 AND status = 'PENDING'
		RETURNING failed_attempts
	`

	var count int
	if err := r.db.Querier(ctx).QueryRow(ctx, query, id, maxAttempts).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// ExpireStale moves PENDING requests past their expiry to EXPIRED
func (r *DeviceRecoveryRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE device_recoveries SET status = 'EXPIRED' WHERE status = 'PENDING' AND expires_at < $1`

	result, err := r.db.Querier(ctx).Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale recoveries: %w", err)
	}
	return result.RowsAffected(), nil
}
