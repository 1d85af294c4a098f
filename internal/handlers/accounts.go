package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// AccountServiceInterface exposes the account lookups used over HTTP
type AccountServiceInterface interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// DeviceServiceInterface exposes the principal's device binding
type DeviceServiceInterface interface {
	CurrentDevice(ctx context.Context, accountID uuid.UUID) (*models.Device, error)
	UnlinkUserDevice(ctx context.Context, accountID uuid.UUID) error
}

type AccountHandler struct {
	accounts AccountServiceInterface
	devices  DeviceServiceInterface
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountServiceInterface, devices DeviceServiceInterface, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, devices: devices, logger: logger}
}

type DeviceResponse struct {
	ID           string  `json:"id"`
	DeviceType   string  `json:"device_type"`
	OS           string  `json:"os"`
	Browser      string  `json:"browser"`
	RegisteredAt string  `json:"registered_at"`
	LastLoginAt  *string `json:"last_login_at,omitempty"`
}

func deviceModelToResponse(d *models.Device) DeviceResponse {
	resp := DeviceResponse{
		ID:           d.ID.String(),
		DeviceType:   d.DeviceType,
		OS:           d.OS,
		Browser:      d.Browser,
		RegisteredAt: d.RegisteredAt.UTC().Format(time.RFC3339),
	}
	if d.LastLoginAt != nil {
		s := d.LastLoginAt.UTC().Format(time.RFC3339)
		resp.LastLoginAt = &s
	}
	return resp
}

// Me handles GET /accounts/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), principal.AccountID)
	if err != nil {
		writeAuthError(w, pkglogger.FromContext(r.Context(), h.logger), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, services.ToSummary(account))
}

// CurrentDevice handles GET /devices/current
func (h *AccountHandler) CurrentDevice(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	device, err := h.devices.CurrentDevice(r.Context(), principal.AccountID)
	if err != nil {
		writeAuthError(w, pkglogger.FromContext(r.Context(), h.logger), err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, deviceModelToResponse(device))
}

// UnlinkDevice handles DELETE /devices/current. The caller's own session is
// closed along with every other session on the device.
func (h *AccountHandler) UnlinkDevice(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.devices.UnlinkUserDevice(r.Context(), principal.AccountID); err != nil {
		writeAuthError(w, pkglogger.FromContext(r.Context(), h.logger), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
