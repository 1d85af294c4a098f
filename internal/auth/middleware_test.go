package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

type fakeSessions struct {
	sessions map[uuid.UUID]*models.Session
	touchErr error
	touched  int
	closed   map[uuid.UUID]models.SessionCloseReason
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[uuid.UUID]*models.Session),
		closed:   make(map[uuid.UUID]models.SessionCloseReason),
	}
}

func (f *fakeSessions) FindActive(_ context.Context, jti uuid.UUID) (*models.Session, error) {
	s, ok := f.sessions[jti]
	if !ok || !s.IsActive() {
		return nil, models.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) Touch(_ context.Context, _ uuid.UUID) error {
	f.touched++
	return f.touchErr
}

func (f *fakeSessions) CloseByJTI(_ context.Context, jti uuid.UUID, reason models.SessionCloseReason) error {
	f.closed[jti] = reason
	return nil
}

type fakeDevices struct {
	fingerprint string
	calls       int
}

func (f *fakeDevices) EnsureAuthorizedDevice(_ context.Context, _ uuid.UUID, fingerprint string) (*models.Device, error) {
	f.calls++
	if f.fingerprint == "" {
		return nil, models.ErrDeviceRequired
	}
	if fingerprint != f.fingerprint {
		return nil, models.ErrDeviceUnauthorized
	}
	return &models.Device{}, nil
}

type fakeRecorder struct {
	rejections []Rejection
	err        error
}

func (f *fakeRecorder) RecordRejection(_ context.Context, rejection Rejection) error {
	f.rejections = append(f.rejections, rejection)
	return f.err
}

func (f *fakeRecorder) reasons() []models.Reason {
	out := make([]models.Reason, 0, len(f.rejections))
	for _, r := range f.rejections {
		out = append(out, r.Reason)
	}
	return out
}

type gateFixture struct {
	gate      *Gate
	codec     *TokenCodec
	sessions  *fakeSessions
	devices   *fakeDevices
	attempts  *fakeRecorder
	accountID uuid.UUID
	deviceID  uuid.UUID
	token     *IssuedToken
	now       time.Time
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, now)
	sessions := newFakeSessions()
	devices := &fakeDevices{fingerprint: "fp-1"}
	attempts := &fakeRecorder{}
	accountID := uuid.New()
	deviceID := uuid.New()

	issued, err := codec.Issue(accountID, "fp-1")
	require.NoError(t, err)
	sessions.sessions[issued.JTI] = &models.Session{
		ID:        uuid.New(),
		JTI:       issued.JTI,
		AccountID: accountID,
		DeviceID:  &deviceID,
		Status:    models.SessionStatusActive,
	}

	gate := NewGate(codec, sessions, devices, attempts, GateConfig{
		PublicPaths: []string{"/auth/login", "/auth/logout", "/auth/register", "/health"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &gateFixture{
		gate: gate, codec: codec, sessions: sessions, devices: devices, attempts: attempts,
		accountID: accountID, deviceID: deviceID, token: issued, now: now,
	}
}

func (f *gateFixture) serve(req *http.Request) (*httptest.ResponseRecorder, *Principal) {
	var seen *Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	f.gate.Middleware(next).ServeHTTP(rec, req)
	return rec, seen
}

func (f *gateFixture) authedRequest(method, path, fingerprint string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+f.token.Token)
	if fingerprint != "" {
		req.Header.Set(pkghttp.HeaderDeviceFingerprint, fingerprint)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestGate_Success(t *testing.T) {
	f := newGateFixture(t)

	rec, principal := f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, principal)
	assert.Equal(t, f.accountID, principal.AccountID)
	assert.Equal(t, f.token.JTI, principal.JTI)
	assert.Equal(t, 1, f.sessions.touched)
	assert.Equal(t, 1, f.devices.calls)
}

func TestGate_PassThrough(t *testing.T) {
	f := newGateFixture(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"options preflight", httptest.NewRequest(http.MethodOptions, "/accounts/me", nil)},
		{"public path", f.authedRequest("POST", "/auth/login", "")},
		{"public prefix", httptest.NewRequest("POST", "/auth/register/step-1", nil)},
		{"no authorization header", httptest.NewRequest("GET", "/accounts/me", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, principal := f.serve(tt.req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Nil(t, principal)
		})
	}
	assert.Zero(t, f.sessions.touched)
}

func TestGate_PublicPathIsNotAPrefixMatchOnSiblings(t *testing.T) {
	f := newGateFixture(t)
	req := httptest.NewRequest("GET", "/auth/login-history", nil)
	req.Header.Set("Authorization", "Bearer garbage")

	rec, _ := f.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_TokenInvalid(t *testing.T) {
	f := newGateFixture(t)

	for _, header := range []string{"Bearer garbage", "Basic abc", "Bearer"} {
		req := httptest.NewRequest("GET", "/accounts/me", nil)
		req.Header.Set("Authorization", header)

		rec, principal := f.serve(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Equal(t, "TOKEN_INVALID", errorCode(t, rec), header)
		assert.Nil(t, principal)
	}
}

func TestGate_TokenExpiredClosesSession(t *testing.T) {
	f := newGateFixture(t)
	f.codec.now = func() time.Time { return f.now.Add(20 * time.Minute) }

	rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, rec))
	assert.Equal(t, models.SessionCloseExpired, f.sessions.closed[f.token.JTI])
}

func TestGate_TokenClosed(t *testing.T) {
	f := newGateFixture(t)
	f.sessions.sessions[f.token.JTI].Status = models.SessionStatusClosed

	rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_CLOSED", errorCode(t, rec))
}

func TestGate_TouchFailures(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{models.ErrSessionExpired, "SESSION_EXPIRED"},
		{models.ErrSessionInactive, "SESSION_INACTIVE"},
		{models.ErrSessionNotFound, "TOKEN_CLOSED"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			f := newGateFixture(t)
			f.sessions.touchErr = tt.err

			rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.want, errorCode(t, rec))
			assert.Zero(t, f.devices.calls)
		})
	}
}

func TestGate_TouchStorageErrorIs500(t *testing.T) {
	f := newGateFixture(t)
	f.sessions.touchErr = errors.New("connection refused")

	rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGate_DeviceUnauthorized(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		f := newGateFixture(t)
		rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "DEVICE_UNAUTHORIZED", errorCode(t, rec))
		assert.Zero(t, f.devices.calls)
	})

	t.Run("header differs from token claim", func(t *testing.T) {
		f := newGateFixture(t)
		rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", "fp-other"))
		assert.Equal(t, "DEVICE_UNAUTHORIZED", errorCode(t, rec))
		assert.Zero(t, f.devices.calls, "digest mismatch rejects before the hash comparison")
	})

	t.Run("device replaced since issuance", func(t *testing.T) {
		f := newGateFixture(t)
		f.devices.fingerprint = "fp-new"
		rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "DEVICE_UNAUTHORIZED", errorCode(t, rec))
	})

	t.Run("device unlinked", func(t *testing.T) {
		f := newGateFixture(t)
		f.devices.fingerprint = ""
		rec, _ := f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))
		assert.Equal(t, "DEVICE_UNAUTHORIZED", errorCode(t, rec))
	})
}

func TestGate_LogoutIsLeftToItsHandler(t *testing.T) {
	f := newGateFixture(t)
	f.sessions.sessions[f.token.JTI].Status = models.SessionStatusClosed

	rec, principal := f.serve(f.authedRequest("POST", "/auth/logout", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, principal)
	assert.Zero(t, f.sessions.touched)
	assert.Zero(t, f.devices.calls)
	assert.Empty(t, f.attempts.rejections)
}

func TestGate_RecordsRejections(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *gateFixture)
		fingerprint string
		want        models.Reason
		withSession bool
	}{
		{
			name:        "expired token",
			setup:       func(f *gateFixture) { f.codec.now = func() time.Time { return f.now.Add(20 * time.Minute) } },
			fingerprint: "fp-1",
			want:        models.ReasonTokenExpired,
		},
		{
			name:        "closed session",
			setup:       func(f *gateFixture) { f.sessions.sessions[f.token.JTI].Status = models.SessionStatusClosed },
			fingerprint: "fp-1",
			want:        models.ReasonTokenClosed,
		},
		{
			name:        "session closed during touch",
			setup:       func(f *gateFixture) { f.sessions.touchErr = models.ErrSessionNotFound },
			fingerprint: "fp-1",
			want:        models.ReasonTokenClosed,
			withSession: true,
		},
		{
			name:        "absolute expiry",
			setup:       func(f *gateFixture) { f.sessions.touchErr = models.ErrSessionExpired },
			fingerprint: "fp-1",
			want:        models.ReasonSessionExpired,
			withSession: true,
		},
		{
			name:        "inactivity",
			setup:       func(f *gateFixture) { f.sessions.touchErr = models.ErrSessionInactive },
			fingerprint: "fp-1",
			want:        models.ReasonSessionInactive,
			withSession: true,
		},
		{
			name:        "fingerprint differs from token",
			setup:       func(f *gateFixture) {},
			fingerprint: "fp-other",
			want:        models.ReasonDeviceUnauthorized,
			withSession: true,
		},
		{
			name:        "device replaced",
			setup:       func(f *gateFixture) { f.devices.fingerprint = "fp-new" },
			fingerprint: "fp-1",
			want:        models.ReasonDeviceUnauthorized,
			withSession: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t)
			tt.setup(f)
			req := f.authedRequest("GET", "/accounts/me", tt.fingerprint)
			req.RemoteAddr = "203.0.113.7:4000"
			req.Header.Set("User-Agent", "gate-test")

			rec, _ := f.serve(req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, string(tt.want), errorCode(t, rec))

			require.Len(t, f.attempts.rejections, 1)
			got := f.attempts.rejections[0]
			assert.Equal(t, tt.want, got.Reason)
			assert.Equal(t, f.accountID, got.AccountID)
			assert.Equal(t, tt.fingerprint, got.Fingerprint)
			assert.Equal(t, "203.0.113.7", got.IPAddress)
			assert.Equal(t, "gate-test", got.UserAgent)
			if tt.withSession {
				require.NotNil(t, got.SessionID)
				assert.Equal(t, f.sessions.sessions[f.token.JTI].ID, *got.SessionID)
				require.NotNil(t, got.DeviceID)
				assert.Equal(t, f.deviceID, *got.DeviceID)
			} else {
				assert.Nil(t, got.SessionID)
			}
		})
	}
}

func TestGate_UnattributedRejectionsAreNotRecorded(t *testing.T) {
	f := newGateFixture(t)
	req := httptest.NewRequest("GET", "/accounts/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")

	rec, _ := f.serve(req)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, rec))
	assert.Empty(t, f.attempts.rejections)

	rec, _ = f.serve(f.authedRequest("GET", "/accounts/me", "fp-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.attempts.reasons())
}

func TestGate_RecordingFailureStillRejects(t *testing.T) {
	f := newGateFixture(t)
	f.attempts.err = errors.New("connection refused")

	rec, principal := f.serve(f.authedRequest("GET", "/accounts/me", "fp-other"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "DEVICE_UNAUTHORIZED", errorCode(t, rec))
	assert.Nil(t, principal)
}

func TestRequireAuthenticated(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	RequireAuthenticated(next).ServeHTTP(rec, httptest.NewRequest("GET", "/accounts/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/accounts/me", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &Principal{AccountID: uuid.New()}))
	rec = httptest.NewRecorder()
	RequireAuthenticated(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
