package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// AccountSummary is the client view of an account
type AccountSummary struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

// CreateAccountInput is used by operator tooling to provision accounts
type CreateAccountInput struct {
	Email         string
	NationalID    string // "<digits>-<check>", optional
	Name          string
	Password      string
	EmailVerified bool
}

// AccountService handles account lookups and operator actions
type AccountService struct {
	accounts AccountRepository
	resolver *IdentityResolver
	ledger   *AttemptLedger
	hasher   CredentialHasher
	notifier *Notifier
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

func NewAccountService(accounts AccountRepository, resolver *IdentityResolver, ledger *AttemptLedger, hasher CredentialHasher, notifier *Notifier, audit *pkglogger.AuditLogger, logger *slog.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		resolver: resolver,
		ledger:   ledger,
		hasher:   hasher,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// GetAccount retrieves an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

// Lookup resolves an email or national ID to an account
func (s *AccountService) Lookup(ctx context.Context, identifier string) (*models.Account, error) {
	return s.resolver.Resolve(ctx, identifier)
}

// CreateAccount provisions an ACTIVE account
func (s *AccountService) CreateAccount(ctx context.Context, in CreateAccountInput) (*models.Account, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") || strings.TrimSpace(in.Name) == "" {
		return nil, models.ErrInvalidInput
	}
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, models.ErrWeakPassword
	}

	account := &models.Account{
		ID:            uuid.New(),
		Email:         email,
		Name:          strings.TrimSpace(in.Name),
		EmailVerified: in.EmailVerified,
		Status:        models.AccountStatusActive,
	}

	if in.NationalID != "" {
		number, check, ok := ParseNationalID(strings.TrimSpace(in.NationalID))
		if !ok {
			return nil, models.ErrInvalidInput
		}
		check = strings.ToUpper(check)
		account.NationalID = &number
		account.NationalIDCheck = &check
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = hash

	created, err := s.accounts.Create(ctx, account)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account created", slog.String("account_id", created.ID.String()))
	return created, nil
}

// UnlockAccount reactivates a locked account and restarts its lockout window
func (s *AccountService) UnlockAccount(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if err := s.accounts.SetStatus(ctx, account.ID, models.AccountStatusActive, s.now().UTC()); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	if err := s.ledger.Record(ctx, AttemptEntry{
		AccountID: accountRef(account),
		Reason:    models.ReasonOK,
		Meta:      RequestMeta{UserAgent: "sentinelctl"},
	}); err != nil {
		return err
	}

	s.audit.LogAccountAction(ctx, pkglogger.EventAccountUnlocked, account.ID.String(), nil)

	if err := s.notifier.SendAccountUnlocked(ctx, account.Email); err != nil {
		s.logger.Error("failed to send account unlocked email",
			slog.String("account_id", account.ID.String()),
			slog.Any("error", err))
	}
	return nil
}

// RecentAttempts lists the newest authentication attempts of an account
func (s *AccountService) RecentAttempts(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.AuthAttempt, error) {
	return s.ledger.Recent(ctx, accountID, limit)
}

// ToSummary converts an account to its client view
func ToSummary(a *models.Account) *AccountSummary {
	return &AccountSummary{
		ID:            a.ID.String(),
		Email:         a.Email,
		Name:          a.Name,
		EmailVerified: a.EmailVerified,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
