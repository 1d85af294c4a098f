package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/sentinel/internal/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints (5 requests per minute)
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 5,
	}
}

// DefaultAccountRateLimit applies to authenticated account and device routes
func DefaultAccountRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests")
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// It sits in front of the credential endpoints; per-account lockout is
// handled separately by the attempt ledger. Forwarding headers only pick the
// bucket when the peer is a trusted proxy in ipConfig.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(clientIPKey(ipConfig)),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByAccount keys the limit on the authenticated account, falling back
// to the client IP when no principal is on the request
func RateLimitByAccount(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	ipKey := clientIPKey(ipConfig)
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p := auth.PrincipalFromContext(r.Context()); p != nil {
				return "account:" + p.AccountID.String(), nil
			}
			ip, err := ipKey(r)
			return "ip:" + ip, err
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func clientIPKey(ipConfig *pkghttp.IPConfig) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		return pkghttp.ExtractClientIP(r, ipConfig), nil
	}
}
