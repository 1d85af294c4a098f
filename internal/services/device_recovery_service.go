package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

const recoveryCodeDigits = 6

// DeviceRecoveryRepository persists device recovery requests
type DeviceRecoveryRepository interface {
	Create(ctx context.Context, rec *models.DeviceRecovery) error
	GetPending(ctx context.Context, id uuid.UUID) (*models.DeviceRecovery, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceRecovery, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
	ExpirePendingForAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	IncrementFailedAttempts(ctx context.Context, id uuid.UUID, maxAttempts int) (int, error)
}

// DeviceRecoveryConfig controls recovery code lifetime and retry budget
type DeviceRecoveryConfig struct {
	CodeTTL         time.Duration
	MaxCodeAttempts int
}

// RecoveryTicket is returned when a recovery code has been sent
type RecoveryTicket struct {
	ID        uuid.UUID
	ExpiresAt time.Time
}

// VerifyRecoveryRequest is the input to VerifyAndLink
type VerifyRecoveryRequest struct {
	RecoveryID string
	Code       string
	Device     models.DeviceInfo
	Meta       RequestMeta
}

// DeviceRecoveryService lets an account holder move their binding to a new
// device by proving control of the registered email address
type DeviceRecoveryService struct {
	recoveries DeviceRecoveryRepository
	accounts   AccountRepository
	resolver   *IdentityResolver
	devices    *DeviceService
	issuer     *SessionIssuer
	ledger     *AttemptLedger
	hasher     CredentialHasher
	notifier   *Notifier
	tx         Transactor
	delay      *auth.TimingDelay
	audit      *pkglogger.AuditLogger
	config     DeviceRecoveryConfig
	logger     *slog.Logger
	now        func() time.Time
	newCode    func() (string, error)
}

func NewDeviceRecoveryService(
	recoveries DeviceRecoveryRepository,
	accounts AccountRepository,
	resolver *IdentityResolver,
	devices *DeviceService,
	issuer *SessionIssuer,
	ledger *AttemptLedger,
	hasher CredentialHasher,
	notifier *Notifier,
	tx Transactor,
	delay *auth.TimingDelay,
	audit *pkglogger.AuditLogger,
	config DeviceRecoveryConfig,
	logger *slog.Logger,
) *DeviceRecoveryService {
	return &DeviceRecoveryService{
		recoveries: recoveries,
		accounts:   accounts,
		resolver:   resolver,
		devices:    devices,
		issuer:     issuer,
		ledger:     ledger,
		hasher:     hasher,
		notifier:   notifier,
		tx:         tx,
		delay:      delay,
		audit:      audit,
		config:     config,
		logger:     logger,
		now:        time.Now,
		newCode: func() (string, error) {
			return pkgauth.GenerateNumericCode(recoveryCodeDigits)
		},
	}
}

// Start emails a one-time code for binding the presented device. Any older
// pending request of the account is expired.
func (s *DeviceRecoveryService) Start(ctx context.Context, identifier, fingerprint string, meta RequestMeta) (*RecoveryTicket, error) {
	start := time.Now()
	ticket, err := s.start(ctx, identifier, fingerprint, meta)
	s.delay.WaitFrom(ctx, start, err == nil)
	return ticket, err
}

func (s *DeviceRecoveryService) start(ctx context.Context, identifier, fingerprint string, meta RequestMeta) (*RecoveryTicket, error) {
	log := pkglogger.FromContext(ctx, s.logger)

	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, models.ErrInvalidInput
	}

	account, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if account.IsLocked() {
		return nil, s.ledger.recordFailure(ctx, AttemptEntry{
			AccountID:   accountRef(account),
			Fingerprint: fingerprint,
			Meta:        meta,
		}, models.ErrAccountBlocked)
	}

	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("generate recovery code: %w", err)
	}
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("hash recovery code: %w", err)
	}
	fingerprintHash, err := s.hasher.Hash(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("hash fingerprint: %w", err)
	}

	now := s.now().UTC()
	rec := &models.DeviceRecovery{
		ID:              uuid.New(),
		AccountID:       account.ID,
		FingerprintHash: fingerprintHash,
		CodeHash:        codeHash,
		Status:          models.RecoveryStatusPending,
		RequestedAt:     now,
		ExpiresAt:       now.Add(s.config.CodeTTL),
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.recoveries.ExpirePendingForAccount(ctx, account.ID); err != nil {
			return fmt.Errorf("expire pending recoveries: %w", err)
		}
		if err := s.recoveries.Create(ctx, rec); err != nil {
			return fmt.Errorf("create recovery: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.SendDeviceRecoveryCode(ctx, account.Email, code, rec.ExpiresAt); err != nil {
		log.Error("failed to send device recovery code",
			slog.String("account_id", account.ID.String()),
			slog.Any("error", err))
	}

	s.audit.LogAccountAction(ctx, pkglogger.EventDeviceRecovery, account.ID.String(), map[string]string{
		"recovery_id": rec.ID.String(),
		"stage":       "requested",
	})

	return &RecoveryTicket{ID: rec.ID, ExpiresAt: rec.ExpiresAt}, nil
}

// notPending explains a verify against a row that is no longer PENDING. A
// row already marked EXPIRED whose deadline has passed still answers
// RECOVERY_EXPIRED, whoever expired it; everything else is RECOVERY_INVALID.
func (s *DeviceRecoveryService) notPending(ctx context.Context, id uuid.UUID, req VerifyRecoveryRequest) error {
	rec, err := s.recoveries.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrRecoveryInvalid
	}
	if err != nil {
		return fmt.Errorf("load recovery: %w", err)
	}
	if rec.Status != models.RecoveryStatusExpired || !rec.IsExpiredAt(s.now().UTC()) {
		return models.ErrRecoveryInvalid
	}

	return s.ledger.recordFailure(ctx, AttemptEntry{
		AccountID:   &rec.AccountID,
		DeviceID:    deviceRef(s.devices.existingDevice(ctx, rec.AccountID)),
		Fingerprint: strings.TrimSpace(req.Device.Fingerprint),
		Meta:        req.Meta,
	}, models.ErrRecoveryExpired)
}

// VerifyAndLink checks the code and fingerprint of a pending recovery, binds
// the device and opens a session. A recovery can succeed at most once.
func (s *DeviceRecoveryService) VerifyAndLink(ctx context.Context, req VerifyRecoveryRequest) (*models.IssuedSession, error) {
	start := time.Now()
	issued, err := s.verifyAndLink(ctx, req)
	s.delay.WaitFrom(ctx, start, err == nil)
	return issued, err
}

func (s *DeviceRecoveryService) verifyAndLink(ctx context.Context, req VerifyRecoveryRequest) (*models.IssuedSession, error) {
	id, err := uuid.Parse(strings.TrimSpace(req.RecoveryID))
	if err != nil {
		return nil, models.ErrRecoveryInvalid
	}

	rec, err := s.recoveries.GetPending(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, s.notPending(ctx, id, req)
	}
	if err != nil {
		return nil, fmt.Errorf("load recovery: %w", err)
	}

	account, err := s.accounts.GetByID(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrRecoveryInvalid
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	fingerprint := strings.TrimSpace(req.Device.Fingerprint)
	entry := AttemptEntry{
		AccountID:   accountRef(account),
		DeviceID:    deviceRef(s.devices.existingDevice(ctx, account.ID)),
		Fingerprint: fingerprint,
		Meta:        req.Meta,
	}

	if account.IsLocked() {
		return nil, s.ledger.recordFailure(ctx, entry, models.ErrAccountBlocked)
	}

	if rec.IsExpiredAt(s.now().UTC()) {
		if err := s.recoveries.MarkExpired(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("expire recovery: %w", err)
		}
		return nil, s.ledger.recordFailure(ctx, entry, models.ErrRecoveryExpired)
	}

	if !s.hasher.Matches(strings.TrimSpace(req.Code), rec.CodeHash) {
		if _, err := s.recoveries.IncrementFailedAttempts(ctx, rec.ID, s.config.MaxCodeAttempts); err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("count recovery failure: %w", err)
		}
		return nil, s.ledger.recordFailure(ctx, entry, models.ErrCodeInvalid)
	}

	if fingerprint == "" || !s.hasher.Matches(fingerprint, rec.FingerprintHash) {
		return nil, s.ledger.recordFailure(ctx, entry, models.ErrFingerprintMismatch)
	}

	var issued *models.IssuedSession
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.recoveries.MarkVerified(ctx, rec.ID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("verify recovery: %w", err)
		}
		if !ok {
			return models.ErrRecoveryInvalid
		}

		device, err := s.devices.RegisterForUser(ctx, account.ID, req.Device)
		if err != nil {
			return err
		}

		issued, err = s.issuer.Issue(ctx, account, device, fingerprint, req.Meta)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventDeviceRecovery,
		AccountID: account.ID.String(),
		IPAddress: req.Meta.IPAddress,
		UserAgent: req.Meta.UserAgent,
		Success:   true,
		Metadata:  map[string]string{"recovery_id": rec.ID.String(), "stage": "verified"},
	})
	return issued, nil
}
