package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// LockoutConfig holds the sliding-window lockout policy
type LockoutConfig struct {
	Window      time.Duration
	MaxAttempts int
}

// LockoutGovernor counts failures per account and blocks the account when the
// budget is spent. The window starts at now-Window, or at the last success
// when that is later.
type LockoutGovernor struct {
	attempts AuthAttemptRepository
	ledger   *AttemptLedger
	accounts AccountRepository
	notifier *Notifier
	audit    *pkglogger.AuditLogger
	config   LockoutConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewLockoutGovernor(attempts AuthAttemptRepository, ledger *AttemptLedger, accounts AccountRepository, notifier *Notifier, audit *pkglogger.AuditLogger, config LockoutConfig, logger *slog.Logger) *LockoutGovernor {
	return &LockoutGovernor{
		attempts: attempts,
		ledger:   ledger,
		accounts: accounts,
		notifier: notifier,
		audit:    audit,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// RemainingAttempts returns max(0, MaxAttempts - password failures in the
// window). Device, recovery and gate failures are recorded but never spend
// the budget.
func (g *LockoutGovernor) RemainingAttempts(ctx context.Context, accountID uuid.UUID) (int, error) {
	since := g.now().UTC().Add(-g.config.Window)

	lastSuccess, err := g.attempts.LastSuccessAt(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load last success: %w", err)
	}
	if lastSuccess != nil && lastSuccess.After(since) {
		since = *lastSuccess
	}

	failures, err := g.attempts.CountPasswordFailuresSince(ctx, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}

	remaining := g.config.MaxAttempts - failures
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// HandleFailedAuthentication records a BAD_CREDENTIALS attempt and returns the
// attempts left after it. The count is read before the new record is
// appended, so the result is RemainingAttempts-1.
func (g *LockoutGovernor) HandleFailedAuthentication(ctx context.Context, account *models.Account, entry AttemptEntry) (int, error) {
	remaining, err := g.RemainingAttempts(ctx, account.ID)
	if err != nil {
		return 0, err
	}

	entry.AccountID = accountRef(account)
	entry.Reason = models.ReasonBadCredentials
	if err := g.ledger.Record(ctx, entry); err != nil {
		return 0, err
	}

	return remaining - 1, nil
}

// BlockAccount moves the account to INACTIVE. It runs inside the caller's
// transaction; NotifyBlocked sends the notice once that commits.
func (g *LockoutGovernor) BlockAccount(ctx context.Context, account *models.Account) error {
	if err := g.accounts.SetStatus(ctx, account.ID, models.AccountStatusInactive, g.now().UTC()); err != nil {
		return fmt.Errorf("block account: %w", err)
	}
	account.Status = models.AccountStatusInactive

	log := pkglogger.FromContext(ctx, g.logger)
	log.Warn("account blocked after repeated failures",
		slog.String("account_id", account.ID.String()),
		slog.Int("max_attempts", g.config.MaxAttempts))
	g.audit.LogAccountAction(ctx, pkglogger.EventAccountLocked, account.ID.String(), map[string]string{
		"window": g.config.Window.String(),
	})
	return nil
}

// NotifyBlocked emails the lock notice. Failures are logged only.
func (g *LockoutGovernor) NotifyBlocked(ctx context.Context, account *models.Account) {
	if err := g.notifier.SendAccountLocked(ctx, account.Email); err != nil {
		log := pkglogger.FromContext(ctx, g.logger)
		log.Error("failed to send account locked email",
			slog.String("account_id", account.ID.String()),
			slog.Any("error", err))
	}
}
