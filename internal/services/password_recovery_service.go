package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// PasswordResetRepository persists single-use password reset tokens
type PasswordResetRepository interface {
	Create(ctx context.Context, reset *models.PasswordReset) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	InvalidateForAccount(ctx context.Context, accountID uuid.UUID, at time.Time) error
}

type PasswordRecoveryConfig struct {
	TokenTTL time.Duration
	// URLBase is the client page that receives the token as ?token=
	URLBase string
}

// PasswordRecoveryService is the out-of-band unlock: proving control of the
// registered email sets a new password and reactivates the account
type PasswordRecoveryService struct {
	resets   PasswordResetRepository
	accounts AccountRepository
	resolver *IdentityResolver
	ledger   *AttemptLedger
	hasher   CredentialHasher
	notifier *Notifier
	tx       Transactor
	audit    *pkglogger.AuditLogger
	config   PasswordRecoveryConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewPasswordRecoveryService(
	resets PasswordResetRepository,
	accounts AccountRepository,
	resolver *IdentityResolver,
	ledger *AttemptLedger,
	hasher CredentialHasher,
	notifier *Notifier,
	tx Transactor,
	audit *pkglogger.AuditLogger,
	config PasswordRecoveryConfig,
	logger *slog.Logger,
) *PasswordRecoveryService {
	return &PasswordRecoveryService{
		resets:   resets,
		accounts: accounts,
		resolver: resolver,
		ledger:   ledger,
		hasher:   hasher,
		notifier: notifier,
		tx:       tx,
		audit:    audit,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Start emails a reset link when the identifier resolves. Unknown
// identifiers return nil so callers cannot tell which accounts exist.
func (s *PasswordRecoveryService) Start(ctx context.Context, identifier string) error {
	log := pkglogger.FromContext(ctx, s.logger)

	account, err := s.resolver.Resolve(ctx, identifier)
	if errors.Is(err, models.ErrUserNotFound) {
		log.Info("password recovery requested for unknown identifier")
		return nil
	}
	if err != nil {
		return err
	}

	token, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	now := s.now().UTC()
	reset := &models.PasswordReset{
		ID:        uuid.New(),
		AccountID: account.ID,
		TokenHash: pkgauth.SHA256Hex(token),
		ExpiresAt: now.Add(s.config.TokenTTL),
		CreatedAt: now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.resets.InvalidateForAccount(ctx, account.ID, now); err != nil {
			return fmt.Errorf("invalidate reset tokens: %w", err)
		}
		if err := s.resets.Create(ctx, reset); err != nil {
			return fmt.Errorf("create reset token: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.notifier.SendPasswordReset(ctx, account.Email, s.resetLink(token), reset.ExpiresAt); err != nil {
		log.Error("failed to send password reset email",
			slog.String("account_id", account.ID.String()),
			slog.Any("error", err))
	}

	s.audit.LogAccountAction(ctx, pkglogger.EventPasswordRecovery, account.ID.String(), map[string]string{
		"stage": "requested",
	})
	return nil
}

// Confirm consumes a reset token, stores the new password and reactivates the
// account. The recorded success also restarts the lockout window.
func (s *PasswordRecoveryService) Confirm(ctx context.Context, token, newPassword string, meta RequestMeta) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.ErrWeakPassword
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return models.ErrResetTokenInvalid
	}

	reset, err := s.resets.GetByTokenHash(ctx, pkgauth.SHA256Hex(token))
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("load reset token: %w", err)
	}

	now := s.now().UTC()
	if !reset.IsUsable(now) {
		return models.ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var account *models.Account
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.resets.MarkUsed(ctx, reset.ID, now)
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if !ok {
			return models.ErrResetTokenInvalid
		}

		if err := s.accounts.ResetPassword(ctx, reset.AccountID, hash, now); err != nil {
			return fmt.Errorf("reset password: %w", err)
		}

		account, err = s.accounts.GetByID(ctx, reset.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		return s.ledger.Record(ctx, AttemptEntry{
			AccountID: accountRef(account),
			Reason:    models.ReasonOK,
			Meta:      meta,
		})
	})
	if err != nil {
		return err
	}

	log := pkglogger.FromContext(ctx, s.logger)
	log.Info("password reset completed", slog.String("account_id", account.ID.String()))

	if err := s.notifier.SendPasswordChanged(ctx, account.Email); err != nil {
		log.Error("failed to send password changed email",
			slog.String("account_id", account.ID.String()),
			slog.Any("error", err))
	}

	s.audit.LogAccountAction(ctx, pkglogger.EventPasswordChanged, account.ID.String(), map[string]string{
		"via": "password_recovery",
	})
	return nil
}

func (s *PasswordRecoveryService) resetLink(token string) string {
	sep := "?"
	if strings.Contains(s.config.URLBase, "?") {
		sep = "&"
	}
	return s.config.URLBase + sep + "token=" + url.QueryEscape(token)
}
