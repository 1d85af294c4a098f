package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
)

// TokenCodec signs and parses bearer tokens
type TokenCodec interface {
	Issue(accountID uuid.UUID, fingerprint string) (*auth.IssuedToken, error)
	Parse(token string) (*models.TokenClaims, error)
}

// Transactor runs fn in one database transaction carried by ctx. Nested calls
// join the outer transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SessionIssuer performs the shared success tail of login and device
// recovery: token, session, success attempt and device last-login, all in
// one transaction.
type SessionIssuer struct {
	codec    TokenCodec
	sessions *SessionManager
	ledger   *AttemptLedger
	devices  DeviceRepository
	tx       Transactor
	now      func() time.Time
}

func NewSessionIssuer(codec TokenCodec, sessions *SessionManager, ledger *AttemptLedger, devices DeviceRepository, tx Transactor) *SessionIssuer {
	return &SessionIssuer{
		codec:    codec,
		sessions: sessions,
		ledger:   ledger,
		devices:  devices,
		tx:       tx,
		now:      time.Now,
	}
}

// Issue signs a token for the account and device and opens its session
func (i *SessionIssuer) Issue(ctx context.Context, account *models.Account, device *models.Device, fingerprint string, meta RequestMeta) (*models.IssuedSession, error) {
	var issued *models.IssuedSession

	err := i.tx.InTx(ctx, func(ctx context.Context) error {
		token, err := i.codec.Issue(account.ID, fingerprint)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		session, err := i.sessions.CreateSession(ctx, token.JTI, account.ID, device, token.ExpiresAt)
		if err != nil {
			return err
		}

		sessionID := session.ID
		if err := i.ledger.Record(ctx, AttemptEntry{
			AccountID:   accountRef(account),
			DeviceID:    deviceRef(device),
			SessionID:   &sessionID,
			Fingerprint: fingerprint,
			Reason:      models.ReasonOK,
			Meta:        meta,
		}); err != nil {
			return err
		}

		if device != nil {
			if err := i.devices.TouchLastLogin(ctx, device.ID, i.now().UTC()); err != nil {
				return fmt.Errorf("touch device: %w", err)
			}
		}

		issued = &models.IssuedSession{
			Token:     token.Token,
			ExpiresAt: token.ExpiresAt,
			SessionID: session.ID,
			AccountID: account.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}
