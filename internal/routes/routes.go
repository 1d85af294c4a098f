package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

const (
	LoginPath            = "/auth/login"
	LogoutPath           = "/auth/logout"
	DeviceRecoveryPath   = "/auth/device-recovery"
	PasswordRecoveryPath = "/auth/password-recovery"
	RegisterPath         = "/auth/register"
	HealthPath           = "/health"
)

// PublicPaths never reach token validation. Each entry also covers its
// sub-paths, so /auth/device-recovery/verify is public too. Logout reads its
// own token so every failure answers the same 401.
var PublicPaths = []string{
	LoginPath,
	LogoutPath,
	DeviceRecoveryPath,
	PasswordRecoveryPath,
	RegisterPath,
	HealthPath,
}

// GateConfig returns the gate settings matching the route table
func GateConfig(ipConfig *pkghttp.IPConfig) auth.GateConfig {
	return auth.GateConfig{
		PublicPaths: PublicPaths,
		IPConfig:    ipConfig,
	}
}

// Handlers bundles every HTTP handler the router serves
type Handlers struct {
	Auth             *handlers.AuthHandler
	DeviceRecovery   *handlers.DeviceRecoveryHandler
	PasswordRecovery *handlers.PasswordRecoveryHandler
	Account          *handlers.AccountHandler
	Health           *handlers.HealthHandler
}

// RegisterRoutes registers all application routes. The gate runs on every
// request; protected routes additionally require the principal it sets.
func RegisterRoutes(router chi.Router, h Handlers, gate *auth.Gate, ipConfig *pkghttp.IPConfig, authLimit, accountLimit middleware.RateLimitConfig) {
	router.Use(gate.Middleware)

	router.Get(HealthPath, h.Health.Health)

	// Public routes - throttled per client IP
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(authLimit, ipConfig))

		r.Post(LoginPath, h.Auth.Login)
		r.Post(LogoutPath, h.Auth.Logout)
		r.Post(DeviceRecoveryPath, h.DeviceRecovery.Start)
		r.Post(DeviceRecoveryPath+"/verify", h.DeviceRecovery.Verify)
		r.Post(PasswordRecoveryPath, h.PasswordRecovery.Start)
		r.Post(PasswordRecoveryPath+"/confirm", h.PasswordRecovery.Confirm)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthenticated)
		r.Use(middleware.RateLimitByAccount(accountLimit, ipConfig))

		r.Get("/accounts/me", h.Account.Me)
		r.Get("/devices/current", h.Account.CurrentDevice)
		r.Delete("/devices/current", h.Account.UnlinkDevice)
	})
}
