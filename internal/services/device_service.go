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
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// DeviceRepository persists the single device of each account
type DeviceRepository interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Device, error)
	Bind(ctx context.Context, device *models.Device) (replaced *models.Device, err error)
	Unlink(ctx context.Context, accountID uuid.UUID, at time.Time) (removed *models.Device, err error)
	TouchLastLogin(ctx context.Context, deviceID uuid.UUID, at time.Time) error
	ListLogs(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.DeviceLog, error)
}

// CredentialHasher is the one-way hash used for passwords, device
// fingerprints and recovery codes
type CredentialHasher interface {
	Hash(plain string) (string, error)
	Matches(plain, digest string) bool
}

// DeviceService owns the one-device-per-account binding
type DeviceService struct {
	accounts AccountRepository
	devices  DeviceRepository
	hasher   CredentialHasher
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

func NewDeviceService(accounts AccountRepository, devices DeviceRepository, hasher CredentialHasher, audit *pkglogger.AuditLogger, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		accounts: accounts,
		devices:  devices,
		hasher:   hasher,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterForUser binds the presented device to the account. Any existing
// device is replaced; callers decide whether replacement is appropriate.
func (s *DeviceService) RegisterForUser(ctx context.Context, accountID uuid.UUID, info models.DeviceInfo) (*models.Device, error) {
	info.Fingerprint = strings.TrimSpace(info.Fingerprint)
	if info.Fingerprint == "" {
		return nil, models.ErrInvalidInput
	}
	info = info.WithDefaults()

	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	hash, err := s.hasher.Hash(info.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("hash fingerprint: %w", err)
	}

	device := &models.Device{
		ID:              uuid.New(),
		AccountID:       accountID,
		FingerprintHash: hash,
		DeviceType:      info.DeviceType,
		OS:              info.OS,
		Browser:         info.Browser,
		RegisteredAt:    s.now().UTC(),
	}

	replaced, err := s.devices.Bind(ctx, device)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("bind device: %w", err)
	}

	log := pkglogger.FromContext(ctx, s.logger)
	metadata := map[string]string{
		"device_id":   device.ID.String(),
		"device_type": device.DeviceType,
		"os":          device.OS,
		"browser":     device.Browser,
	}
	if replaced != nil {
		metadata["replaced_device_id"] = replaced.ID.String()
		log.Info("device replaced",
			slog.String("account_id", accountID.String()),
			slog.String("old_device_id", replaced.ID.String()),
			slog.String("new_device_id", device.ID.String()))
	}
	s.audit.LogAccountAction(ctx, pkglogger.EventDeviceLinked, accountID.String(), metadata)

	return device, nil
}

// EnsureAuthorizedDevice verifies the presented fingerprint against the
// account's bound device
func (s *DeviceService) EnsureAuthorizedDevice(ctx context.Context, accountID uuid.UUID, fingerprint string) (*models.Device, error) {
	device, err := s.devices.GetByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrDeviceRequired
		}
		return nil, fmt.Errorf("load device: %w", err)
	}

	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" || !s.hasher.Matches(fingerprint, device.FingerprintHash) {
		return nil, models.ErrDeviceUnauthorized
	}
	return device, nil
}

// UnlinkUserDevice removes the account's device and closes the sessions bound
// to it. A no-op when no device is linked.
func (s *DeviceService) UnlinkUserDevice(ctx context.Context, accountID uuid.UUID) error {
	removed, err := s.devices.Unlink(ctx, accountID, s.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrAccountNotFound
		}
		return fmt.Errorf("unlink device: %w", err)
	}
	if removed == nil {
		return nil
	}

	s.audit.LogAccountAction(ctx, pkglogger.EventDeviceUnlinked, accountID.String(), map[string]string{
		"device_id": removed.ID.String(),
	})
	return nil
}

// CurrentDevice returns the bound device or models.ErrDeviceRequired
func (s *DeviceService) CurrentDevice(ctx context.Context, accountID uuid.UUID) (*models.Device, error) {
	device, err := s.devices.GetByAccountID(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrDeviceRequired
	}
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}

// existingDevice returns the bound device or nil, for attaching a device
// reference to attempts recorded before the device check
func (s *DeviceService) existingDevice(ctx context.Context, accountID uuid.UUID) *models.Device {
	device, err := s.devices.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil
	}
	return device
}

// History lists the newest link and unlink records of an account
func (s *DeviceService) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.DeviceLog, error) {
	return s.devices.ListLogs(ctx, accountID, limit)
}
