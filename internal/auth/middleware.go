package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// SessionGuard is the part of the session lifecycle the Gate consults
type SessionGuard interface {
	FindActive(ctx context.Context, jti uuid.UUID) (*models.Session, error)
	Touch(ctx context.Context, jti uuid.UUID) error
	CloseByJTI(ctx context.Context, jti uuid.UUID, reason models.SessionCloseReason) error
}

// DeviceGuard re-checks device binding on each request
type DeviceGuard interface {
	EnsureAuthorizedDevice(ctx context.Context, accountID uuid.UUID, fingerprint string) (*models.Device, error)
}

// Rejection is a Gate refusal for a request whose account is known
type Rejection struct {
	AccountID   uuid.UUID
	SessionID   *uuid.UUID
	DeviceID    *uuid.UUID
	Fingerprint string
	Reason      models.Reason
	IPAddress   string
	UserAgent   string
}

// AttemptRecorder appends Gate rejections to the auth attempt ledger
type AttemptRecorder interface {
	RecordRejection(ctx context.Context, rejection Rejection) error
}

type GateConfig struct {
	// PublicPaths pass through untouched. An entry matches the path itself
	// and everything below it.
	PublicPaths []string
	// IPConfig decides which address is recorded on rejections
	IPConfig *pkghttp.IPConfig
}

// Gate authenticates every non-public request: token, session, then device.
// Requests without an Authorization header continue unauthenticated; protected
// routes reject them with RequireAuthenticated.
type Gate struct {
	codec    *TokenCodec
	sessions SessionGuard
	devices  DeviceGuard
	attempts AttemptRecorder
	config   GateConfig
	logger   *slog.Logger
}

func NewGate(codec *TokenCodec, sessions SessionGuard, devices DeviceGuard, attempts AttemptRecorder, config GateConfig, logger *slog.Logger) *Gate {
	return &Gate{
		codec:    codec,
		sessions: sessions,
		devices:  devices,
		attempts: attempts,
		config:   config,
		logger:   logger,
	}
}

func (g *Gate) isPublic(path string) bool {
	for _, p := range g.config.PublicPaths {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// Middleware returns the Gate as chi-compatible middleware
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || g.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, present := pkghttp.BearerToken(r)
		if !present {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		log := pkglogger.FromContext(ctx, g.logger)
		fingerprint := pkghttp.ReadDeviceHeaders(r).Fingerprint
		rejection := Rejection{
			Fingerprint: fingerprint,
			IPAddress:   pkghttp.ExtractClientIP(r, g.config.IPConfig),
			UserAgent:   r.UserAgent(),
		}

		claims, err := g.codec.Parse(tokenString)
		if errors.Is(err, models.ErrTokenExpired) {
			if jti, idErr := claims.JTI(); idErr == nil {
				if closeErr := g.sessions.CloseByJTI(ctx, jti, models.SessionCloseExpired); closeErr != nil {
					log.Warn("failed to close session for expired token", slog.Any("error", closeErr))
				}
			}
			if accountID, idErr := claims.AccountID(); idErr == nil {
				rejection.AccountID = accountID
				g.record(ctx, log, rejection, models.ReasonTokenExpired)
			}
			writeReason(w, models.ReasonTokenExpired)
			return
		}
		if err != nil {
			writeReason(w, models.ReasonTokenInvalid)
			return
		}

		jti, _ := claims.JTI()
		accountID, _ := claims.AccountID()
		rejection.AccountID = accountID

		session, err := g.sessions.FindActive(ctx, jti)
		if err != nil {
			if errors.Is(err, models.ErrSessionNotFound) {
				g.reject(ctx, log, w, rejection, models.ReasonTokenClosed)
				return
			}
			log.Error("session lookup failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		if session.AccountID != accountID {
			log.Warn("token subject does not match session owner")
			writeReason(w, models.ReasonTokenInvalid)
			return
		}
		sessionID := session.ID
		rejection.SessionID = &sessionID
		rejection.DeviceID = session.DeviceID

		if err := g.sessions.Touch(ctx, jti); err != nil {
			reason, ok := models.ReasonOf(err)
			switch {
			case ok && reason == models.ReasonSessionNotFound:
				g.reject(ctx, log, w, rejection, models.ReasonTokenClosed)
			case ok && (reason == models.ReasonSessionExpired || reason == models.ReasonSessionInactive):
				g.reject(ctx, log, w, rejection, reason)
			default:
				log.Error("session touch failed", slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Internal server error")
			}
			return
		}

		if !g.deviceAuthorized(ctx, log, w, claims, rejection) {
			return
		}

		ctx = WithPrincipal(ctx, &Principal{
			AccountID:   accountID,
			SessionID:   session.ID,
			JTI:         jti,
			Fingerprint: fingerprint,
		})
		ctx = pkglogger.WithAccountID(ctx, accountID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deviceAuthorized compares the header fingerprint with the token claim, then
// with the stored device hash. It writes the response and returns false on
// any failure.
func (g *Gate) deviceAuthorized(ctx context.Context, log *slog.Logger, w http.ResponseWriter, claims *models.TokenClaims, rejection Rejection) bool {
	fingerprint := rejection.Fingerprint
	if fingerprint == "" ||
		subtle.ConstantTimeCompare([]byte(FingerprintDigest(fingerprint)), []byte(claims.Fingerprint)) != 1 {
		g.reject(ctx, log, w, rejection, models.ReasonDeviceUnauthorized)
		return false
	}

	if _, err := g.devices.EnsureAuthorizedDevice(ctx, rejection.AccountID, fingerprint); err != nil {
		if errors.Is(err, models.ErrDeviceUnauthorized) || errors.Is(err, models.ErrDeviceRequired) {
			g.reject(ctx, log, w, rejection, models.ReasonDeviceUnauthorized)
			return false
		}
		log.Error("device check failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return false
	}
	return true
}

// reject records the refusal and writes it
func (g *Gate) reject(ctx context.Context, log *slog.Logger, w http.ResponseWriter, rejection Rejection, reason models.Reason) {
	g.record(ctx, log, rejection, reason)
	writeReason(w, reason)
}

// record appends the rejection to the ledger. The request is refused either
// way, so a storage failure is only logged.
func (g *Gate) record(ctx context.Context, log *slog.Logger, rejection Rejection, reason models.Reason) {
	rejection.Reason = reason
	if err := g.attempts.RecordRejection(ctx, rejection); err != nil {
		log.Error("failed to record gate rejection",
			slog.String("reason", string(reason)),
			slog.Any("error", err))
	}
}

// RequireAuthenticated rejects requests the Gate did not authenticate
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			pkghttp.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Every Gate rejection is a 401, including device failures
func writeReason(w http.ResponseWriter, reason models.Reason) {
	pkghttp.WriteError(w, http.StatusUnauthorized, string(reason), reason.Message())
}
