package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated caller resolved by the Gate
type Principal struct {
	AccountID   uuid.UUID
	SessionID   uuid.UUID
	JTI         uuid.UUID
	Fingerprint string
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns nil for unauthenticated requests
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}
