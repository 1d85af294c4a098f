package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

const (
	testPassword    = "Correct-Horse-42!"
	testFingerprint = "fp-phone-1"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore is the shared state behind the in-memory repositories
type memStore struct {
	mu          sync.Mutex
	accounts    map[uuid.UUID]*models.Account
	devices     map[uuid.UUID]*models.Device // by account id
	deviceLogs  []*models.DeviceLog
	sessions    map[uuid.UUID]*models.Session // by jti
	attempts    []*models.AuthAttempt
	recoveries  map[uuid.UUID]*models.DeviceRecovery
	resets      map[uuid.UUID]*models.PasswordReset
	touchWrites int
}

func newMemStore() *memStore {
	return &memStore{
		accounts:   make(map[uuid.UUID]*models.Account),
		devices:    make(map[uuid.UUID]*models.Device),
		sessions:   make(map[uuid.UUID]*models.Session),
		recoveries: make(map[uuid.UUID]*models.DeviceRecovery),
		resets:     make(map[uuid.UUID]*models.PasswordReset),
	}
}

func (m *memStore) attemptsFor(accountID uuid.UUID) []*models.AuthAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuthAttempt
	for _, a := range m.attempts {
		if a.AccountID != nil && *a.AccountID == accountID {
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) session(jti uuid.UUID) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[jti]
}

// memAccounts implements AccountRepository
type memAccounts struct{ *memStore }

func (r memAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetByIDForUpdate does not lock; serialTx provides the exclusion
func (r memAccounts) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.GetByID(ctx, id)
}

func (r memAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r memAccounts) GetByNationalID(_ context.Context, nationalID int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.NationalID != nil && *a.NationalID == nationalID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r memAccounts) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == account.Email {
			return nil, models.ErrConflict
		}
	}
	cp := *account
	r.accounts[account.ID] = &cp
	out := cp
	return &out, nil
}

func (r memAccounts) SetStatus(_ context.Context, id uuid.UUID, status models.AccountStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = at
	return nil
}

func (r memAccounts) ResetPassword(_ context.Context, id uuid.UUID, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.Status = models.AccountStatusActive
	a.PasswordChangedAt = &at
	a.UpdatedAt = at
	return nil
}

// memDevices implements DeviceRepository, including the detach-on-replace
// behavior of the SQL implementation
type memDevices struct{ *memStore }

func (r memDevices) GetByAccountID(_ context.Context, accountID uuid.UUID) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[accountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r memDevices) Bind(_ context.Context, device *models.Device) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[device.AccountID]; !ok {
		return nil, models.ErrNotFound
	}
	var replaced *models.Device
	if old, ok := r.devices[device.AccountID]; ok {
		r.detach(old, device.RegisteredAt, models.SessionCloseDeviceReplaced)
		replaced = old
	}
	cp := *device
	r.devices[device.AccountID] = &cp
	id := device.ID
	r.deviceLogs = append(r.deviceLogs, &models.DeviceLog{
		ID: uuid.New(), AccountID: device.AccountID, DeviceID: &id,
		Action: models.DeviceLogLink, Snapshot: device.Snapshot(), CreatedAt: device.RegisteredAt,
	})
	return replaced, nil
}

func (r memDevices) Unlink(_ context.Context, accountID uuid.UUID, at time.Time) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.devices[accountID]
	if !ok {
		return nil, nil
	}
	r.detach(old, at, models.SessionCloseDeviceUnlinked)
	return old, nil
}

// detach must be called with the lock held
func (r memDevices) detach(old *models.Device, at time.Time, reason models.SessionCloseReason) {
	for _, s := range r.sessions {
		if s.DeviceID == nil || *s.DeviceID != old.ID {
			continue
		}
		if s.Status == models.SessionStatusActive {
			closedAt := at
			if s.AbsoluteExpiresAt.Before(closedAt) {
				closedAt = s.AbsoluteExpiresAt
			}
			s.Status = models.SessionStatusClosed
			s.ClosedAt = &closedAt
			rr := reason
			s.CloseReason = &rr
		}
		s.DeviceID = nil
	}
	for _, a := range r.attempts {
		if a.DeviceID != nil && *a.DeviceID == old.ID {
			a.DeviceID = nil
		}
	}
	for _, l := range r.deviceLogs {
		if l.DeviceID != nil && *l.DeviceID == old.ID {
			l.DeviceID = nil
		}
	}
	r.deviceLogs = append(r.deviceLogs, &models.DeviceLog{
		ID: uuid.New(), AccountID: old.AccountID, Action: models.DeviceLogUnlink,
		Snapshot: old.Snapshot(), CreatedAt: at,
	})
	delete(r.devices, old.AccountID)
}

func (r memDevices) TouchLastLogin(_ context.Context, deviceID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.ID == deviceID {
			d.LastLoginAt = &at
			return nil
		}
	}
	return models.ErrNotFound
}

func (r memDevices) ListLogs(_ context.Context, accountID uuid.UUID, limit int) ([]*models.DeviceLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DeviceLog
	for i := len(r.deviceLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.deviceLogs[i].AccountID == accountID {
			out = append(out, r.deviceLogs[i])
		}
	}
	return out, nil
}

// memSessions implements SessionRepository
type memSessions struct{ *memStore }

func (r memSessions) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.JTI] = &cp
	return nil
}

func (r memSessions) GetActiveByJTI(_ context.Context, jti uuid.UUID) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[jti]
	if !ok || s.Status != models.SessionStatusActive {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r memSessions) UpdateLastActivity(_ context.Context, jti uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[jti]
	if !ok || s.Status != models.SessionStatusActive || !s.LastActivityAt.Before(at) {
		return false, nil
	}
	s.LastActivityAt = at
	r.touchWrites++
	return true, nil
}

func (r memSessions) Close(_ context.Context, jti uuid.UUID, closedAt time.Time, reason models.SessionCloseReason) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[jti]
	if !ok || s.Status != models.SessionStatusActive {
		return false, nil
	}
	s.Status = models.SessionStatusClosed
	s.ClosedAt = &closedAt
	s.CloseReason = &reason
	return true, nil
}

// memAttempts implements AuthAttemptRepository
type memAttempts struct{ *memStore }

func (r memAttempts) Record(_ context.Context, attempt *models.AuthAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *attempt
	r.attempts = append(r.attempts, &cp)
	return nil
}

func (r memAttempts) CountPasswordFailuresSince(_ context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.AccountID != nil && *a.AccountID == accountID && a.Reason == models.ReasonBadCredentials && a.AttemptedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r memAttempts) LastSuccessAt(_ context.Context, accountID uuid.UUID) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *time.Time
	for _, a := range r.attempts {
		if a.AccountID != nil && *a.AccountID == accountID && a.Success {
			if last == nil || a.AttemptedAt.After(*last) {
				at := a.AttemptedAt
				last = &at
			}
		}
	}
	return last, nil
}

func (r memAttempts) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]*models.AuthAttempt, error) {
	all := r.attemptsFor(accountID)
	sort.SliceStable(all, func(i, j int) bool { return all[i].AttemptedAt.After(all[j].AttemptedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// memRecoveries implements DeviceRecoveryRepository
type memRecoveries struct{ *memStore }

func (r memRecoveries) Create(_ context.Context, rec *models.DeviceRecovery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.recoveries[rec.ID] = &cp
	return nil
}

func (r memRecoveries) GetPending(_ context.Context, id uuid.UUID) (*models.DeviceRecovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recoveries[id]
	if !ok || rec.Status != models.RecoveryStatusPending {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r memRecoveries) MarkVerified(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recoveries[id]
	if !ok || rec.Status != models.RecoveryStatusPending {
		return false, nil
	}
	rec.Status = models.RecoveryStatusVerified
	rec.VerifiedAt = &at
	return true, nil
}

func (r memRecoveries) MarkExpired(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.recoveries[id]; ok && rec.Status == models.RecoveryStatusPending {
		rec.Status = models.RecoveryStatusExpired
	}
	return nil
}

func (r memRecoveries) ExpirePendingForAccount(_ context.Context, accountID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.recoveries {
		if rec.AccountID == accountID && rec.Status == models.RecoveryStatusPending {
			rec.Status = models.RecoveryStatusExpired
			n++
		}
	}
	return n, nil
}

func (r memRecoveries) IncrementFailedAttempts(_ context.Context, id uuid.UUID, maxAttempts int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recoveries[id]
	if !ok || rec.Status != models.RecoveryStatusPending {
		return 0, models.ErrNotFound
	}
	rec.FailedAttempts++
	if rec.FailedAttempts >= maxAttempts {
		rec.Status = models.RecoveryStatusExpired
	}
	return rec.FailedAttempts, nil
}

func (r memRecoveries) GetByID(_ context.Context, id uuid.UUID) (*models.DeviceRecovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recoveries[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// sweep applies the background sweeper's recovery step
func (r memRecoveries) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recoveries {
		if rec.Status == models.RecoveryStatusPending && now.After(rec.ExpiresAt) {
			rec.Status = models.RecoveryStatusExpired
		}
	}
}

func (r memRecoveries) status(id uuid.UUID) models.RecoveryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recoveries[id].Status
}

// memResets implements PasswordResetRepository
type memResets struct{ *memStore }

func (r memResets) Create(_ context.Context, reset *models.PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *reset
	r.resets[reset.ID] = &cp
	return nil
}

func (r memResets) GetByTokenHash(_ context.Context, tokenHash string) (*models.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reset := range r.resets {
		if reset.TokenHash == tokenHash {
			cp := *reset
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r memResets) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset, ok := r.resets[id]
	if !ok || reset.UsedAt != nil {
		return false, nil
	}
	reset.UsedAt = &at
	return true, nil
}

func (r memResets) InvalidateForAccount(_ context.Context, accountID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reset := range r.resets {
		if reset.AccountID == accountID && reset.UsedAt == nil {
			reset.UsedAt = &at
		}
	}
	return nil
}

// inlineTx runs fn directly; the in-memory store has no rollback
type inlineTx struct{}

func (inlineTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type inTxKey struct{}

// serialTx lets one transaction run at a time, standing in for the account
// row lock. Nested calls join the outer transaction.
type serialTx struct{ mu sync.Mutex }

func (s *serialTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

type sentEmail struct {
	To, Subject, Body string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (s *captureSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *captureSender) last() sentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fixture wires every service against one memStore and one clock
type fixture struct {
	store  *memStore
	clock  *testClock
	sender *captureSender
	hasher *pkgauth.BcryptHasher
	codec  *auth.TokenCodec

	resolver  *IdentityResolver
	devices   *DeviceService
	ledger    *AttemptLedger
	lockout   *LockoutGovernor
	sessions  *SessionManager
	issuer    *SessionIssuer
	auth      *AuthService
	recovery  *DeviceRecoveryService
	passwords *PasswordRecoveryService
	accounts  *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	clock := newTestClock()
	sender := &captureSender{}
	hasher := pkgauth.NewBcryptHasher(4)
	logger := discardLogger()
	audit := pkglogger.NewAuditLogger(logger)
	notifier := NewNotifier(sender)

	codec, err := auth.NewTokenCodec([]byte("services-test-secret-0123456789"), 15*time.Minute)
	require.NoError(t, err)

	accountRepo := memAccounts{store}
	deviceRepo := memDevices{store}
	attemptRepo := memAttempts{store}

	f := &fixture{store: store, clock: clock, sender: sender, hasher: hasher, codec: codec}
	f.resolver = NewIdentityResolver(accountRepo)
	f.devices = NewDeviceService(accountRepo, deviceRepo, hasher, audit, logger)
	f.devices.now = clock.Now
	f.ledger = NewAttemptLedger(attemptRepo, logger)
	f.ledger.now = clock.Now
	f.lockout = NewLockoutGovernor(attemptRepo, f.ledger, accountRepo, notifier, audit,
		LockoutConfig{Window: 30 * time.Minute, MaxAttempts: 5}, logger)
	f.lockout.now = clock.Now
	f.sessions = NewSessionManager(memSessions{store}, SessionConfig{
		MaxLifetime:       30 * time.Minute,
		InactivityTimeout: 10 * time.Minute,
		TouchInterval:     time.Minute,
	}, logger)
	f.sessions.now = clock.Now
	f.issuer = NewSessionIssuer(codec, f.sessions, f.ledger, deviceRepo, inlineTx{})
	f.issuer.now = clock.Now
	f.auth = NewAuthService(accountRepo, f.resolver, f.devices, f.lockout, f.ledger, f.issuer, f.sessions,
		codec, hasher, &serialTx{}, auth.NoDelay(), audit, logger)
	f.recovery = NewDeviceRecoveryService(memRecoveries{store}, accountRepo, f.resolver, f.devices,
		f.issuer, f.ledger, hasher, notifier, inlineTx{}, auth.NoDelay(), audit,
		DeviceRecoveryConfig{CodeTTL: 10 * time.Minute, MaxCodeAttempts: 3}, logger)
	f.recovery.now = clock.Now
	f.recovery.newCode = func() (string, error) { return "493817", nil }
	f.passwords = NewPasswordRecoveryService(memResets{store}, accountRepo, f.resolver, f.ledger,
		hasher, notifier, inlineTx{}, audit,
		PasswordRecoveryConfig{TokenTTL: 30 * time.Minute, URLBase: "https://app.example/reset"}, logger)
	f.passwords.now = clock.Now
	f.accounts = NewAccountService(accountRepo, f.resolver, f.ledger, hasher, notifier, audit, logger)
	f.accounts.now = clock.Now
	return f
}

type accountOpt func(*models.Account)

func unverified() accountOpt { return func(a *models.Account) { a.EmailVerified = false } }
func locked() accountOpt     { return func(a *models.Account) { a.Status = models.AccountStatusInactive } }

// addAccount stores a verified, active account with national ID 12345678-K
func (f *fixture) addAccount(t *testing.T, email string, opts ...accountOpt) *models.Account {
	t.Helper()
	hash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)

	nid := int64(12345678)
	check := "K"
	a := &models.Account{
		ID:              uuid.New(),
		Email:           email,
		NationalID:      &nid,
		NationalIDCheck: &check,
		Name:            "Test Holder",
		PasswordHash:    hash,
		EmailVerified:   true,
		Status:          models.AccountStatusActive,
		CreatedAt:       f.clock.Now(),
		UpdatedAt:       f.clock.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	f.store.mu.Lock()
	f.store.accounts[a.ID] = a
	f.store.mu.Unlock()
	return a
}

func (f *fixture) accountStatus(id uuid.UUID) models.AccountStatus {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.accounts[id].Status
}

func (f *fixture) bindDevice(t *testing.T, accountID uuid.UUID, fingerprint string) *models.Device {
	t.Helper()
	d, err := f.devices.RegisterForUser(context.Background(), accountID, models.DeviceInfo{Fingerprint: fingerprint})
	require.NoError(t, err)
	return d
}

func (f *fixture) loginRequest(identifier, password, fingerprint string) models.LoginRequest {
	return models.LoginRequest{
		Identifier: identifier,
		Password:   password,
		Device:     models.DeviceInfo{Fingerprint: fingerprint},
		IPAddress:  "203.0.113.7",
		UserAgent:  "test-agent",
	}
}

func countReason(attempts []*models.AuthAttempt, reason models.Reason) int {
	n := 0
	for _, a := range attempts {
		if a.Reason == reason {
			n++
		}
	}
	return n
}
