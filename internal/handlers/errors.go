package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// writeAuthError renders a service error. Typed authentication outcomes map
// to their reason code and status; anything else is logged and becomes a 500.
func writeAuthError(w http.ResponseWriter, log *slog.Logger, err error) {
	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		status := authErr.Reason.HTTPStatus()
		if authErr.Remaining != nil {
			pkghttp.WriteErrorWithRemaining(w, status, string(authErr.Reason), authErr.Reason.Message(), *authErr.Remaining)
			return
		}
		pkghttp.WriteError(w, status, string(authErr.Reason), authErr.Reason.Message())
		return
	}

	log.Error("request failed", slog.Any("error", err))
	pkghttp.WriteInternalError(w, "Internal server error")
}
