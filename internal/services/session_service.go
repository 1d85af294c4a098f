package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// SessionRepository persists sessions keyed by jti
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetActiveByJTI(ctx context.Context, jti uuid.UUID) (*models.Session, error)
	UpdateLastActivity(ctx context.Context, jti uuid.UUID, at time.Time) (bool, error)
	Close(ctx context.Context, jti uuid.UUID, closedAt time.Time, reason models.SessionCloseReason) (bool, error)
}

// SessionConfig holds the session clocks
type SessionConfig struct {
	MaxLifetime       time.Duration
	InactivityTimeout time.Duration
	// TouchInterval throttles last-activity writes
	TouchInterval time.Duration
}

// SessionManager enforces absolute lifetime and inactivity on sessions
type SessionManager struct {
	repo   SessionRepository
	config SessionConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewSessionManager(repo SessionRepository, config SessionConfig, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// CreateSession opens an ACTIVE session for a freshly issued token. The
// fingerprint snapshot is the bound device's hash at creation time.
func (m *SessionManager) CreateSession(ctx context.Context, jti uuid.UUID, accountID uuid.UUID, device *models.Device, tokenExpiresAt time.Time) (*models.Session, error) {
	now := m.now().UTC()
	session := &models.Session{
		ID:                uuid.New(),
		JTI:               jti,
		AccountID:         accountID,
		CreatedAt:         now,
		LastActivityAt:    now,
		AbsoluteExpiresAt: now.Add(m.config.MaxLifetime),
		TokenExpiresAt:    tokenExpiresAt,
		Status:            models.SessionStatusActive,
	}
	if device != nil {
		session.DeviceID = deviceRef(device)
		session.FingerprintSnapshot = device.FingerprintHash
	}

	if err := m.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// FindActive returns the ACTIVE session for jti or models.ErrSessionNotFound
func (m *SessionManager) FindActive(ctx context.Context, jti uuid.UUID) (*models.Session, error) {
	session, err := m.repo.GetActiveByJTI(ctx, jti)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

// Touch applies the session clocks to one request. Past the absolute
// lifetime the session closes as EXPIRED; past the inactivity timeout it
// closes as INACTIVE, timestamped at the inactivity deadline. Activity within
// the touch interval is not written.
func (m *SessionManager) Touch(ctx context.Context, jti uuid.UUID) error {
	session, err := m.FindActive(ctx, jti)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	if now.After(session.AbsoluteExpiresAt) {
		m.close(ctx, session, session.AbsoluteExpiresAt, models.SessionCloseExpired)
		return models.ErrSessionExpired
	}

	elapsed := now.Sub(session.LastActivityAt)
	if elapsed < m.config.TouchInterval {
		return nil
	}

	if elapsed > m.config.InactivityTimeout {
		m.close(ctx, session, session.InactiveDeadline(m.config.InactivityTimeout), models.SessionCloseInactive)
		return models.ErrSessionInactive
	}

	if _, err := m.repo.UpdateLastActivity(ctx, jti, now); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CloseByJTI closes the session if it is still ACTIVE. Closing an unknown or
// already closed session is a no-op.
func (m *SessionManager) CloseByJTI(ctx context.Context, jti uuid.UUID, reason models.SessionCloseReason) error {
	session, err := m.repo.GetActiveByJTI(ctx, jti)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	closedAt := m.now().UTC()
	if session.AbsoluteExpiresAt.Before(closedAt) {
		closedAt = session.AbsoluteExpiresAt
	}
	if _, err := m.repo.Close(ctx, jti, closedAt, reason); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	pkglogger.FromContext(ctx, m.logger).Info("session closed",
		slog.String("session_id", session.ID.String()),
		slog.String("reason", string(reason)))
	return nil
}

// close is the best-effort close used when a clock has run out. The caller
// reports the expiry regardless of whether the write lands.
func (m *SessionManager) close(ctx context.Context, session *models.Session, closedAt time.Time, reason models.SessionCloseReason) {
	if _, err := m.repo.Close(ctx, session.JTI, closedAt, reason); err != nil {
		pkglogger.FromContext(ctx, m.logger).Error("failed to close session",
			slog.String("session_id", session.ID.String()),
			slog.String("reason", string(reason)),
			slog.Any("error", err))
	}
}
