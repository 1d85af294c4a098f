package logger

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const accountIDKey ctxKey = iota

// WithAccountID returns a context carrying the authenticated account id for
// log correlation
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountIDFromContext returns the account id stored by WithAccountID
func AccountIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey).(string)
	return id
}

// FromContext derives a logger carrying the request id and account id found
// in ctx
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if ctx == nil {
		return base
	}
	l := base
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		l = l.With(slog.String("request_id", reqID))
	}
	if accountID := AccountIDFromContext(ctx); accountID != "" {
		l = l.With(slog.String("account_id", accountID))
	}
	return l
}
