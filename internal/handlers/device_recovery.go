package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// DeviceRecoveryServiceInterface defines the device recovery flow
type DeviceRecoveryServiceInterface interface {
	Start(ctx context.Context, identifier, fingerprint string, meta services.RequestMeta) (*services.RecoveryTicket, error)
	VerifyAndLink(ctx context.Context, req services.VerifyRecoveryRequest) (*models.IssuedSession, error)
}

type DeviceRecoveryHandler struct {
	service  DeviceRecoveryServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewDeviceRecoveryHandler(service DeviceRecoveryServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *DeviceRecoveryHandler {
	return &DeviceRecoveryHandler{service: service, ipConfig: ipConfig, logger: logger}
}

// StartDeviceRecoveryRequest names the account; the device comes from the
// X-Device-* headers
type StartDeviceRecoveryRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
}

type StartDeviceRecoveryResponse struct {
	RecoveryID string `json:"recovery_id"`
	ExpiresAt  string `json:"expires_at"`
}

type VerifyDeviceRecoveryRequest struct {
	RecoveryID string `json:"recovery_id" validate:"required"`
	Code       string `json:"code" validate:"required,len=6,numeric"`
}

func (h *DeviceRecoveryHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}
}

// Start handles POST /auth/device-recovery
func (h *DeviceRecoveryHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartDeviceRecoveryRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ticket, err := h.service.Start(r.Context(), req.Identifier, deviceInfo(r).Fingerprint, h.meta(r))
	if err != nil {
		writeAuthError(w, pkglogger.FromContext(r.Context(), h.logger), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, StartDeviceRecoveryResponse{
		RecoveryID: ticket.ID.String(),
		ExpiresAt:  ticket.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Verify handles POST /auth/device-recovery/verify
func (h *DeviceRecoveryHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyDeviceRecoveryRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	issued, err := h.service.VerifyAndLink(r.Context(), services.VerifyRecoveryRequest{
		RecoveryID: req.RecoveryID,
		Code:       req.Code,
		Device:     deviceInfo(r),
		Meta:       h.meta(r),
	})
	if err != nil {
		writeAuthError(w, pkglogger.FromContext(r.Context(), h.logger), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newSessionResponse(issued))
}
