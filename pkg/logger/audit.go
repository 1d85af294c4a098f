package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLogin            = "login"
	EventLogout           = "logout"
	EventAccountLocked    = "account_locked"
	EventAccountUnlocked  = "account_unlocked"
	EventDeviceLinked     = "device_linked"
	EventDeviceUnlinked   = "device_unlinked"
	EventDeviceRecovery   = "device_recovery"
	EventPasswordRecovery = "password_recovery"
	EventPasswordChanged  = "password_changed"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	AccountID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes audit records as structured log entries. The audit
// trail of record is the auth_attempts table; these entries feed log
// pipelines.
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogAuthAttempt logs an authentication outcome
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	FromContext(ctx, al.logger).LogAttrs(ctx, level, "audit", attrs...)
}

// LogAccountAction logs account and device state changes
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, accountID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("account_id", accountID),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	FromContext(ctx, al.logger).LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
