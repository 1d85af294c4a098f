package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "j***@*******.com", SanitizedEmail("jane@example.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("no-at-sign"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("token=abc"))
	assert.True(t, SanitizeQueryString("Fingerprint=xyz"))
	assert.False(t, SanitizeQueryString("page=2&sort=asc"))
}

func TestFingerprintAttr(t *testing.T) {
	a := FingerprintAttr("device-123")
	assert.Len(t, a.Value.String(), 8)
	assert.NotContains(t, a.Value.String(), "device")
	assert.Equal(t, a, FingerprintAttr("device-123"))
}

func TestFromContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = WithAccountID(ctx, "acct-1")

	FromContext(ctx, base).Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "acct-1", entry["account_id"])
}

func TestAuditLogger_LevelFollowsOutcome(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogAuthAttempt(context.Background(), AuditEvent{
		EventType:     EventLogin,
		AccountID:     "acct-1",
		Success:       false,
		FailureReason: "BAD_CREDENTIALS",
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "BAD_CREDENTIALS", entry["failure_reason"])
	assert.Equal(t, "auth", entry["audit_type"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}
