package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
)

// AccountRepository is the account store used across the services
type AccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByNationalID(ctx context.Context, nationalID int64) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus, at time.Time) error
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error
}

var nationalIDPattern = regexp.MustCompile(`^(\d+)-([0-9A-Za-z])$`)

// ParseNationalID splits "<digits>-<check>" into its number and checksum
// character. ok is false for any other shape or a number that overflows int64.
func ParseNationalID(s string) (number int64, check string, ok bool) {
	m := nationalIDPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

// IdentityResolver maps a login identifier to an account
type IdentityResolver struct {
	accounts AccountRepository
}

func NewIdentityResolver(accounts AccountRepository) *IdentityResolver {
	return &IdentityResolver{accounts: accounts}
}

// Resolve treats identifiers containing "@" as an email and anything else as
// a national ID with checksum. Malformed input and checksum mismatches are
// reported as models.ErrUserNotFound; only storage failures return other
// errors.
func (r *IdentityResolver) Resolve(ctx context.Context, identifier string) (*models.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, models.ErrUserNotFound
	}

	var (
		account *models.Account
		err     error
	)
	if strings.Contains(identifier, "@") {
		account, err = r.accounts.GetByEmail(ctx, identifier)
	} else {
		number, check, ok := ParseNationalID(identifier)
		if !ok {
			return nil, models.ErrUserNotFound
		}
		account, err = r.accounts.GetByNationalID(ctx, number)
		if err == nil && !account.MatchesCheck(check) {
			return nil, models.ErrUserNotFound
		}
	}

	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return account, nil
}
