package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newJSONRequest creates an HTTP request with JSON body for testing
func newJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withPrincipal(req *http.Request, accountID uuid.UUID) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{
		AccountID: accountID,
		SessionID: uuid.New(),
		JTI:       uuid.New(),
	}))
}

// assertErrorResponse checks status and reason code of an error body
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

type mockAuthService struct {
	LoginFunc  func(ctx context.Context, req models.LoginRequest) (*models.IssuedSession, error)
	LogoutFunc func(ctx context.Context, token string) error
}

func (m *mockAuthService) Login(ctx context.Context, req models.LoginRequest) (*models.IssuedSession, error) {
	return m.LoginFunc(ctx, req)
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	return m.LogoutFunc(ctx, token)
}

type mockRecoveryService struct {
	StartFunc  func(ctx context.Context, identifier, fingerprint string, meta services.RequestMeta) (*services.RecoveryTicket, error)
	VerifyFunc func(ctx context.Context, req services.VerifyRecoveryRequest) (*models.IssuedSession, error)
}

func (m *mockRecoveryService) Start(ctx context.Context, identifier, fingerprint string, meta services.RequestMeta) (*services.RecoveryTicket, error) {
	return m.StartFunc(ctx, identifier, fingerprint, meta)
}

func (m *mockRecoveryService) VerifyAndLink(ctx context.Context, req services.VerifyRecoveryRequest) (*models.IssuedSession, error) {
	return m.VerifyFunc(ctx, req)
}

type mockPasswordService struct {
	StartErr   error
	ConfirmErr error
	started    []string
}

func (m *mockPasswordService) Start(_ context.Context, identifier string) error {
	m.started = append(m.started, identifier)
	return m.StartErr
}

func (m *mockPasswordService) Confirm(_ context.Context, _, _ string, _ services.RequestMeta) error {
	return m.ConfirmErr
}

type mockAccountService struct {
	account *models.Account
}

func (m *mockAccountService) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if m.account == nil || m.account.ID != id {
		return nil, models.ErrAccountNotFound
	}
	return m.account, nil
}

type mockDeviceService struct {
	device   *models.Device
	unlinked []uuid.UUID
}

func (m *mockDeviceService) CurrentDevice(_ context.Context, _ uuid.UUID) (*models.Device, error) {
	if m.device == nil {
		return nil, models.ErrDeviceRequired
	}
	return m.device, nil
}

func (m *mockDeviceService) UnlinkUserDevice(_ context.Context, accountID uuid.UUID) error {
	m.unlinked = append(m.unlinked, accountID)
	return nil
}

type mockHealth struct {
	err error
}

func (m mockHealth) HealthCheck(context.Context) error { return m.err }
func (m mockHealth) Stats() database.PoolStats        { return database.PoolStats{MaxConns: 25} }
