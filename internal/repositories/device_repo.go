package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

// DeviceRepository owns the devices and device_logs tables. Every change to
// the binding runs in one transaction together with its log rows and the
// detaching of rows that reference the old device.
type DeviceRepository struct {
	db *database.DB
}

func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, account_id, fingerprint_hash, device_type, os, browser, registered_at, last_login_at`

func scanDeviceRow(scanner rowScanner) (*models.Device, error) {
	var d models.Device
	err := scanner.Scan(
		&d.ID, &d.AccountID, &d.FingerprintHash, &d.DeviceType,
		&d.OS, &d.Browser, &d.RegisteredAt, &d.LastLoginAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &d, nil
}

func (r *DeviceRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE account_id = $1`
	return scanDeviceRow(r.db.Querier(ctx).QueryRow(ctx, query, accountID))
}

// Bind makes device the account's only device. An existing device is
// detached and deleted first, and returned as replaced. The account row is
// locked for the duration so concurrent binds serialize and the last one wins.
func (r *DeviceRepository) Bind(ctx context.Context, device *models.Device) (replaced *models.Device, err error) {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	err = r.db.InTx(ctx, func(ctx context.Context) error {
		if err := r.lockAccount(ctx, device.AccountID); err != nil {
			return err
		}

		existing, err := r.GetByAccountID(ctx, device.AccountID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if existing != nil {
			if err := r.detachAndDelete(ctx, existing, device.RegisteredAt, models.SessionCloseDeviceReplaced); err != nil {
				return err
			}
			replaced = existing
		}

		query := `
			INSERT INTO devices (id, account_id, fingerprint_hash, device_type, os, browser, registered_at, last_login_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		if _, err := r.db.Querier(ctx).Exec(ctx, query,
			device.ID, device.AccountID, device.FingerprintHash, device.DeviceType,
			device.OS, device.Browser, device.RegisteredAt, device.LastLoginAt,
		); err != nil {
			return fmt.Errorf("failed to insert device: %w", database.MapPostgresError(err))
		}

		return r.writeLog(ctx, device.AccountID, &device.ID, models.DeviceLogLink, device.Snapshot(), device.RegisteredAt)
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// Unlink removes the account's device. It returns the removed device, or nil
// when the account had none.
func (r *DeviceRepository) Unlink(ctx context.Context, accountID uuid.UUID, at time.Time) (removed *models.Device, err error) {
	err = r.db.InTx(ctx, func(ctx context.Context) error {
		if err := r.lockAccount(ctx, accountID); err != nil {
			return err
		}

		existing, err := r.GetByAccountID(ctx, accountID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		removed = existing
		return r.detachAndDelete(ctx, existing, at, models.SessionCloseDeviceUnlinked)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// TouchLastLogin records a successful login on the device
func (r *DeviceRepository) TouchLastLogin(ctx context.Context, deviceID uuid.UUID, at time.Time) error {
	query := `UPDATE devices SET last_login_at = $2 WHERE id = $1`
	if _, err := r.db.Querier(ctx).Exec(ctx, query, deviceID, at); err != nil {
		return fmt.Errorf("failed to update device last login: %w", err)
	}
	return nil
}

// ListLogs returns the account's device link history, newest first
func (r *DeviceRepository) ListLogs(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.DeviceLog, error) {
	query := `
		SELECT id, account_id, device_id, action, snapshot, created_at
		FROM device_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query device logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.DeviceLog, 0)
	for rows.Next() {
		var l models.DeviceLog
		if err := rows.Scan(&l.ID, &l.AccountID, &l.DeviceID, &l.Action, &l.Snapshot, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device log: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device log rows: %w", err)
	}
	return logs, nil
}

func (r *DeviceRepository) lockAccount(ctx context.Context, accountID uuid.UUID) error {
	var id uuid.UUID
	err := r.db.Querier(ctx).QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
	return database.MapPostgresError(err)
}

// detachAndDelete closes the device's active sessions, clears every foreign
// key pointing at it, logs the unlink and deletes the row
func (r *DeviceRepository) detachAndDelete(ctx context.Context, device *models.Device, at time.Time, reason models.SessionCloseReason) error {
	q := r.db.Querier(ctx)

	closeSessions := `
		UPDATE sessions
		SET status = 'CLOSED', closed_at = LEAST($2, absolute_expires_at), close_reason = $3
		WHERE device_id = $1 AND status = 'ACTIVE'
	`
	if _, err := q.Exec(ctx, closeSessions, device.ID, at, reason); err != nil {
		return fmt.Errorf("failed to close device sessions: %w", err)
	}

	detach := []string{
		`UPDATE sessions SET device_id = NULL WHERE device_id = $1`,
		`UPDATE auth_attempts SET device_id = NULL WHERE device_id = $1`,
		`UPDATE device_logs SET device_id = NULL WHERE device_id = $1`,
	}
	for _, stmt := range detach {
		if _, err := q.Exec(ctx, stmt, device.ID); err != nil {
			return fmt.Errorf("failed to detach device references: %w", err)
		}
	}

	if err := r.writeLog(ctx, device.AccountID, nil, models.DeviceLogUnlink, device.Snapshot(), at); err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `DELETE FROM devices WHERE id = $1`, device.ID); err != nil {
		return fmt.Errorf("failed to delete device: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *DeviceRepository) writeLog(ctx context.Context, accountID uuid.UUID, deviceID *uuid.UUID, action models.DeviceLogAction, snapshot models.DeviceSnapshot, at time.Time) error {
	query := `
		INSERT INTO device_logs (id, account_id, device_id, action, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.Querier(ctx).Exec(ctx, query, uuid.New(), accountID, deviceID, action, snapshot, at); err != nil {
		return fmt.Errorf("failed to write device log: %w", err)
	}
	return nil
}
