// Package app wires repositories and services from configuration. Both the
// API server and sentinelctl build their object graph here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/services"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// Services is the assembled service layer
type Services struct {
	Codec            *auth.TokenCodec
	Accounts         *services.AccountService
	Devices          *services.DeviceService
	Sessions         *services.SessionManager
	Attempts         *services.AttemptLedger
	Auth             *services.AuthService
	DeviceRecovery   *services.DeviceRecoveryService
	PasswordRecovery *services.PasswordRecoveryService
	Cleanup          *background.CleanupManager
}

// NewEmailSender picks the sender named by EMAIL_PROVIDER
func NewEmailSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.EmailSender, error) {
	if cfg.Email.Provider == "ses" {
		sender, err := services.NewSESSender(ctx, cfg.Email.AWSRegion, cfg.Email.From, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email sender: %w", err)
		}
		return sender, nil
	}
	return services.NewLogSender(logger, cfg.Server.Env), nil
}

// Build constructs every service over db. The JWT secret is copied into a
// memguard enclave by the token codec.
func Build(cfg *config.Config, db *database.DB, sender services.EmailSender, logger *slog.Logger) (*Services, error) {
	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	accountRepo := repositories.NewAccountRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	attemptRepo := repositories.NewAuthAttemptRepository(db)
	recoveryRepo := repositories.NewDeviceRecoveryRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)
	hasher := pkgauth.NewBcryptHasher(cfg.Auth.BcryptCost)
	notifier := services.NewNotifier(sender)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingDelayBase,
		RandomDelay: cfg.Auth.TimingDelayRandomness,
	})

	resolver := services.NewIdentityResolver(accountRepo)
	ledger := services.NewAttemptLedger(attemptRepo, logger)
	devices := services.NewDeviceService(accountRepo, deviceRepo, hasher, auditLogger, logger)
	sessions := services.NewSessionManager(sessionRepo, services.SessionConfig{
		MaxLifetime:       cfg.Session.MaxLifetime,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		TouchInterval:     cfg.Session.TouchInterval,
	}, logger)
	lockout := services.NewLockoutGovernor(attemptRepo, ledger, accountRepo, notifier, auditLogger, services.LockoutConfig{
		Window:      cfg.Lockout.Window,
		MaxAttempts: cfg.Lockout.MaxAttempts,
	}, logger)
	issuer := services.NewSessionIssuer(codec, sessions, ledger, deviceRepo, db)

	return &Services{
		Codec:    codec,
		Accounts: services.NewAccountService(accountRepo, resolver, ledger, hasher, notifier, auditLogger, logger),
		Devices:  devices,
		Sessions: sessions,
		Attempts: ledger,
		Auth: services.NewAuthService(
			accountRepo, resolver, devices, lockout, ledger, issuer, sessions, codec, hasher, db, timingDelay, auditLogger, logger,
		),
		DeviceRecovery: services.NewDeviceRecoveryService(
			recoveryRepo, accountRepo, resolver, devices, issuer, ledger, hasher, notifier, db, timingDelay, auditLogger,
			services.DeviceRecoveryConfig{
				CodeTTL:         cfg.Recovery.DeviceCodeTTL,
				MaxCodeAttempts: cfg.Recovery.MaxCodeAttempts,
			}, logger,
		),
		PasswordRecovery: services.NewPasswordRecoveryService(
			resetRepo, accountRepo, resolver, ledger, hasher, notifier, db, auditLogger,
			services.PasswordRecoveryConfig{
				TokenTTL: cfg.Recovery.PasswordResetTTL,
				URLBase:  cfg.Recovery.PasswordResetURLBase,
			}, logger,
		),
		Cleanup: background.NewCleanupManager(sessionRepo, recoveryRepo, resetRepo, background.CleanupConfig{
			Interval:          cfg.Session.CleanupInterval,
			InactivityTimeout: cfg.Session.InactivityTimeout,
			ResetRetention:    24 * time.Hour,
		}, logger),
	}, nil
}
