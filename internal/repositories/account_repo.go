package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, national_id, national_id_check, name, password_hash,
	email_verified, status, password_changed_at, created_at, updated_at`

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	err := scanner.Scan(
		&a.ID, &a.Email, &a.NationalID, &a.NationalIDCheck, &a.Name, &a.PasswordHash,
		&a.EmailVerified, &a.Status, &a.PasswordChangedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

// GetByIDForUpdate loads the account and holds its row lock until the
// surrounding transaction ends
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccountRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

// GetByEmail looks up by exact address
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.db.Querier(ctx).QueryRow(ctx, query, email))
}

// GetByNationalID looks up by the numeric part of a national ID. The caller
// compares the checksum character.
func (r *AccountRepository) GetByNationalID(ctx context.Context, nationalID int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE national_id = $1`
	return scanAccountRow(r.db.Querier(ctx).QueryRow(ctx, query, nationalID))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = models.AccountStatusActive
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt

	query := `
		INSERT INTO accounts (id, email, national_id, national_id_check, name, password_hash,
			email_verified, status, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Querier(ctx).QueryRow(ctx, query,
		account.ID, account.Email, account.NationalID, account.NationalIDCheck, account.Name,
		account.PasswordHash, account.EmailVerified, account.Status, account.PasswordChangedAt,
		account.CreatedAt, account.UpdatedAt,
	))
}

// SetStatus moves the account between ACTIVE and INACTIVE
func (r *AccountRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus, at time.Time) error {
	query := `UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Querier(ctx).Exec(ctx, query, id, status, at)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ResetPassword stores a new password hash and reactivates the account
func (r *AccountRepository) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3, status = $4, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Querier(ctx).Exec(ctx, query, id, passwordHash, at, models.AccountStatusActive)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
