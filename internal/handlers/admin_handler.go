package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// AdminServiceInterface defines the admin operations contract.
type AdminServiceInterface interface {
	ClearLockout(ctx context.Context, admin *models.Principal, username, ip string) error
}

// AdminHandler handles admin HTTP requests.
type AdminHandler struct {
	service  AdminServiceInterface
	clientIP auth.ClientIPFunc
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, clientIP auth.ClientIPFunc, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, clientIP: clientIP, logger: logger}
}

// ClearLockoutRequest names the username whose lockout is lifted
type ClearLockoutRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

// ClearLockout handles POST /admin/lockouts/clear
func (h *AdminHandler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetPrincipal(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ClearLockoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ClearLockout(r.Context(), admin, req.Username, h.clientIP(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
