package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// MFAServiceInterface defines TOTP enrollment and management
type MFAServiceInterface interface {
	BeginEnrollment(ctx context.Context, principal *models.Principal) (*auth.Enrollment, error)
	ConfirmEnrollment(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error)
	Disable(ctx context.Context, principal *models.Principal, password, code, ip string) error
	RegenerateRecoveryCodes(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error)
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	service  MFAServiceInterface
	clientIP auth.ClientIPFunc
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(service MFAServiceInterface, clientIP auth.ClientIPFunc, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		service:  service,
		clientIP: clientIP,
		logger:   logger,
	}
}

// MFACodeRequest carries a TOTP code
type MFACodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableMFARequest needs the password and a TOTP or recovery code
type DisableMFARequest struct {
	Password string `json:"password" validate:"required,max=128"`
	Code     string `json:"code" validate:"required,max=16"`
}

// RecoveryCodesResponse carries freshly generated recovery codes. They are
// shown once and only their hashes are kept.
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Enroll handles POST /auth/mfa/enroll
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	enrollment, err := h.service.BeginEnrollment(r.Context(), principal)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// Confirm handles POST /auth/mfa/confirm
func (h *MFAHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req MFACodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	codes, err := h.service.ConfirmEnrollment(r.Context(), principal, req.Code, h.clientIP(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// Disable handles POST /auth/mfa/disable
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DisableMFARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Disable(r.Context(), principal, req.Password, req.Code, h.clientIP(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateRecoveryCodes handles POST /auth/mfa/recovery-codes
func (h *MFAHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req MFACodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	codes, err := h.service.RegenerateRecoveryCodes(r.Context(), principal, req.Code, h.clientIP(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}
