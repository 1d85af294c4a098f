package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
)

// AuthAttemptRepository is the append-only attempt store
type AuthAttemptRepository interface {
	Record(ctx context.Context, attempt *models.AuthAttempt) error
	CountPasswordFailuresSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	LastSuccessAt(ctx context.Context, accountID uuid.UUID) (*time.Time, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.AuthAttempt, error)
}

// RequestMeta is the client context attached to every recorded attempt
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AttemptEntry describes one authentication outcome to be recorded
type AttemptEntry struct {
	AccountID   *uuid.UUID
	DeviceID    *uuid.UUID
	SessionID   *uuid.UUID
	Fingerprint string
	Reason      models.Reason
	Meta        RequestMeta
}

// AttemptLedger appends authentication outcomes. Fingerprints are stored as
// their SHA-256 digest.
type AttemptLedger struct {
	repo   AuthAttemptRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewAttemptLedger(repo AuthAttemptRepository, logger *slog.Logger) *AttemptLedger {
	return &AttemptLedger{repo: repo, logger: logger, now: time.Now}
}

// Record appends the entry. A success is exactly an entry with reason OK.
func (l *AttemptLedger) Record(ctx context.Context, entry AttemptEntry) error {
	var snapshot string
	if entry.Fingerprint != "" {
		snapshot = pkgauth.SHA256Hex(entry.Fingerprint)
	}

	attempt := &models.AuthAttempt{
		ID:                  uuid.New(),
		AccountID:           entry.AccountID,
		DeviceID:            entry.DeviceID,
		SessionID:           entry.SessionID,
		FingerprintSnapshot: snapshot,
		Success:             entry.Reason == models.ReasonOK,
		Reason:              entry.Reason,
		IPAddress:           entry.Meta.IPAddress,
		UserAgent:           entry.Meta.UserAgent,
		AttemptedAt:         l.now().UTC(),
	}
	if err := l.repo.Record(ctx, attempt); err != nil {
		return fmt.Errorf("record auth attempt: %w", err)
	}
	return nil
}

// RecordRejection implements auth.AttemptRecorder
func (l *AttemptLedger) RecordRejection(ctx context.Context, rejection auth.Rejection) error {
	accountID := rejection.AccountID
	return l.Record(ctx, AttemptEntry{
		AccountID:   &accountID,
		DeviceID:    rejection.DeviceID,
		SessionID:   rejection.SessionID,
		Fingerprint: rejection.Fingerprint,
		Reason:      rejection.Reason,
		Meta:        RequestMeta{IPAddress: rejection.IPAddress, UserAgent: rejection.UserAgent},
	})
}

// Recent lists the newest attempts for an account
func (l *AttemptLedger) Recent(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.AuthAttempt, error) {
	return l.repo.ListByAccount(ctx, accountID, limit)
}

// recordFailure records a failed outcome and returns authErr, or the storage
// error when the record could not be written
func (l *AttemptLedger) recordFailure(ctx context.Context, entry AttemptEntry, authErr error) error {
	if reason, ok := models.ReasonOf(authErr); ok {
		entry.Reason = reason
	}
	if err := l.Record(ctx, entry); err != nil {
		return err
	}
	return authErr
}

func withReason(entry AttemptEntry, reason models.Reason) AttemptEntry {
	entry.Reason = reason
	return entry
}

func deviceRef(d *models.Device) *uuid.UUID {
	if d == nil {
		return nil
	}
	id := d.ID
	return &id
}

func accountRef(a *models.Account) *uuid.UUID {
	if a == nil {
		return nil
	}
	id := a.ID
	return &id
}
