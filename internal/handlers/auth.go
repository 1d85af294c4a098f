package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// AuthServiceInterface defines the interface for login and logout
type AuthServiceInterface interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.IssuedSession, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login. Identifier is an email
// address or a national ID with its check character.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Password   string `json:"password" validate:"required,max=128"`
}

// SessionResponse is returned by login and device recovery
type SessionResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
	SessionID string `json:"session_id"`
}

func newSessionResponse(s *models.IssuedSession) SessionResponse {
	return SessionResponse{
		Token:     s.Token,
		TokenType: "Bearer",
		ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		SessionID: s.SessionID.String(),
	}
}

// deviceInfo builds the device description from the X-Device-* headers
func deviceInfo(r *http.Request) models.DeviceInfo {
	h := pkghttp.ReadDeviceHeaders(r)
	return models.DeviceInfo{
		Fingerprint: h.Fingerprint,
		DeviceType:  h.Type,
		OS:          h.OS,
		Browser:     h.Browser,
	}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	issued, err := h.service.Login(r.Context(), models.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		Device:     deviceInfo(r),
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		writeAuthError(w, pkglogger.FromContext(r.Context(), h.logger), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newSessionResponse(issued))
}

// Logout handles POST /auth/logout. Every failure is answered with the same
// 401 so the response never reveals whether the token was well formed.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := pkghttp.BearerToken(r)
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
