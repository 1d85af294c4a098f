package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// AuthService is the login orchestrator. It composes identity resolution,
// device binding, the lockout governor and session issuance.
type AuthService struct {
	accounts AccountRepository
	resolver *IdentityResolver
	devices  *DeviceService
	lockout  *LockoutGovernor
	ledger   *AttemptLedger
	issuer   *SessionIssuer
	sessions *SessionManager
	codec    TokenCodec
	hasher   CredentialHasher
	tx       Transactor
	delay    *auth.TimingDelay
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
}

func NewAuthService(
	accounts AccountRepository,
	resolver *IdentityResolver,
	devices *DeviceService,
	lockout *LockoutGovernor,
	ledger *AttemptLedger,
	issuer *SessionIssuer,
	sessions *SessionManager,
	codec TokenCodec,
	hasher CredentialHasher,
	tx Transactor,
	delay *auth.TimingDelay,
	audit *pkglogger.AuditLogger,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		resolver: resolver,
		devices:  devices,
		lockout:  lockout,
		ledger:   ledger,
		issuer:   issuer,
		sessions: sessions,
		codec:    codec,
		hasher:   hasher,
		tx:       tx,
		delay:    delay,
		audit:    audit,
		logger:   logger,
	}
}

// Login authenticates identifier, password and device fingerprint and opens a
// session. Failures are padded to a uniform latency.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.IssuedSession, error) {
	start := time.Now()
	issued, err := s.login(ctx, req)
	s.delay.WaitFrom(ctx, start, err == nil)

	event := pkglogger.AuditEvent{
		EventType: pkglogger.EventLogin,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   err == nil,
	}
	if issued != nil {
		event.AccountID = issued.AccountID.String()
	}
	if err != nil {
		event.FailureReason = "internal_error"
		if reason, ok := models.ReasonOf(err); ok {
			event.FailureReason = string(reason)
		}
	}
	s.audit.LogAuthAttempt(ctx, event)
	return issued, err
}

func (s *AuthService) login(ctx context.Context, req models.LoginRequest) (*models.IssuedSession, error) {
	log := pkglogger.FromContext(ctx, s.logger)
	meta := RequestMeta{IPAddress: req.IPAddress, UserAgent: req.UserAgent}
	fingerprint := strings.TrimSpace(req.Device.Fingerprint)

	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		return nil, models.ErrBadCredentials
	}

	account, err := s.resolver.Resolve(ctx, req.Identifier)
	if errors.Is(err, models.ErrUserNotFound) {
		log.Info("login failed: unknown identifier")
		return nil, s.ledger.recordFailure(ctx, AttemptEntry{
			Fingerprint: fingerprint,
			Meta:        meta,
		}, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}

	ctx = pkglogger.WithAccountID(ctx, account.ID.String())
	log = pkglogger.FromContext(ctx, s.logger)

	entry := AttemptEntry{
		AccountID:   accountRef(account),
		DeviceID:    deviceRef(s.devices.existingDevice(ctx, account.ID)),
		Fingerprint: fingerprint,
		Meta:        meta,
	}

	if !account.EmailVerified {
		log.Info("login blocked: email not verified")
		return nil, s.ledger.recordFailure(ctx, entry, models.ErrEmailNotVerified)
	}
	if account.IsLocked() {
		log.Info("login blocked: account locked")
		return nil, s.ledger.recordFailure(ctx, entry, models.ErrAccountBlocked)
	}

	// Device binding is checked before the password so a wrong device gets
	// the same answer whether or not the password was right.
	device, err := s.devices.EnsureAuthorizedDevice(ctx, account.ID, fingerprint)
	if err != nil {
		if _, ok := models.ReasonOf(err); !ok {
			return nil, err
		}
		log.Info("login blocked: device check failed", slog.Any("reason", err))
		return nil, s.ledger.recordFailure(ctx, entry, err)
	}
	entry.DeviceID = deviceRef(device)

	// The password check and the lockout bookkeeping run under the account
	// row lock, so concurrent logins spend the budget one at a time.
	// Expected failures are returned through failure so the recorded
	// attempt commits.
	var (
		issued  *models.IssuedSession
		failure error
		blocked bool
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.accounts.GetByIDForUpdate(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if current.IsLocked() {
			log.Info("login blocked: account locked")
			failure = models.ErrAccountBlocked
			return s.ledger.Record(ctx, withReason(entry, models.ReasonAccountBlocked))
		}

		if !s.hasher.Matches(req.Password, current.PasswordHash) {
			remaining, err := s.lockout.HandleFailedAuthentication(ctx, current, entry)
			if err != nil {
				return err
			}
			if remaining <= 0 {
				if err := s.lockout.BlockAccount(ctx, current); err != nil {
					return err
				}
				blocked = true
				failure = models.ErrAccountBlocked
				return nil
			}
			log.Info("login failed: invalid credentials", slog.Int("remaining_attempts", remaining))
			failure = models.ErrBadCredentials.WithRemaining(remaining)
			return nil
		}

		issued, err = s.issuer.Issue(ctx, current, device, fingerprint, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	if blocked {
		s.lockout.NotifyBlocked(ctx, account)
	}
	if failure != nil {
		return nil, failure
	}

	log.Info("account logged in", slog.String("session_id", issued.SessionID.String()))
	return issued, nil
}

// Logout closes the session named by the token. An expired token can still
// log out; any other failure collapses to models.ErrTokenInvalid.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	log := pkglogger.FromContext(ctx, s.logger)

	claims, err := s.codec.Parse(token)
	if err != nil && !errors.Is(err, models.ErrTokenExpired) {
		return models.ErrTokenInvalid
	}
	if claims == nil {
		return models.ErrTokenInvalid
	}

	jti, err := claims.JTI()
	if err != nil {
		return models.ErrTokenInvalid
	}

	if err := s.sessions.CloseByJTI(ctx, jti, models.SessionCloseLogout); err != nil {
		log.Error("logout failed", slog.Any("error", err))
		return models.ErrTokenInvalid
	}

	s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogout,
		AccountID: claims.Subject,
		Success:   true,
	})
	return nil
}
