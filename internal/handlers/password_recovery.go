package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// PasswordRecoveryServiceInterface defines the password reset flow
type PasswordRecoveryServiceInterface interface {
	Start(ctx context.Context, identifier string) error
	Confirm(ctx context.Context, token, newPassword string, meta services.RequestMeta) error
}

type PasswordRecoveryHandler struct {
	service  PasswordRecoveryServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewPasswordRecoveryHandler(service PasswordRecoveryServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *PasswordRecoveryHandler {
	return &PasswordRecoveryHandler{service: service, ipConfig: ipConfig, logger: logger}
}

type StartPasswordRecoveryRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
}

type ConfirmPasswordRecoveryRequest struct {
	Token       string `json:"token" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// Start handles POST /auth/password-recovery. The answer is 202 whether or
// not the identifier matched an account.
func (h *PasswordRecoveryHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartPasswordRecoveryRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Start(r.Context(), req.Identifier); err != nil {
		pkglogger.FromContext(r.Context(), h.logger).Error("password recovery start failed", slog.Any("error", err))
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the account exists, a reset link has been sent to its email address",
	})
}

// Confirm handles POST /auth/password-recovery/confirm
func (h *PasswordRecoveryHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPasswordRecoveryRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := services.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}
	if err := h.service.Confirm(r.Context(), req.Token, req.NewPassword, meta); err != nil {
		writeAuthError(w, pkglogger.FromContext(r.Context(), h.logger), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}
