package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/services"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
	pkglogger "github.com/BradenHooton/praxis/pkg/logger"
)

// PasswordResetServiceInterface defines the reset token lifecycle
type PasswordResetServiceInterface interface {
	ForgotPassword(ctx context.Context, email, ip string) error
	PreviewResetToken(ctx context.Context, plainToken string) (*services.ResetTokenPreview, error)
	ResetPassword(ctx context.Context, plainToken, newPassword, ip string) error
}

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	VerifyEmail(ctx context.Context, plainToken, ip string) error
}

// AccountHandler serves the emailed-token flows: password reset and email
// verification
type AccountHandler struct {
	resets       PasswordResetServiceInterface
	verification EmailVerificationServiceInterface
	clientIP     auth.ClientIPFunc
	logger       *slog.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(resets PasswordResetServiceInterface, verification EmailVerificationServiceInterface, clientIP auth.ClientIPFunc, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		resets:       resets,
		verification: verification,
		clientIP:     clientIP,
		logger:       logger,
	}
}

// ForgotPasswordRequest represents the request body for a reset request
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResetPasswordRequest represents the request body for redeeming a reset token
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=128"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

// ResetTokenResponse describes a redeemable reset token
type ResetTokenResponse struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at"`
}

const forgotPasswordMessage = "If an account exists for that email, a reset link has been sent."

// ForgotPassword starts a password reset. The response is identical whether
// or not the email belongs to an account.
// @Summary Request password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Email"
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/forgot-password [post]
func (h *AccountHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.resets.ForgotPassword(r.Context(), req.Email, h.clientIP(r)); err != nil {
		// Swallowed so failures cannot be told apart from unknown emails
		h.logger.Error("forgot password failed",
			slog.String("email", pkglogger.SanitizedEmail(req.Email)),
			slog.Any("error", err))
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": forgotPasswordMessage})
}

// PreviewResetToken reports whether a reset link can still be redeemed
func (h *AccountHandler) PreviewResetToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		pkghttp.WriteBadRequest(w, "Token is required")
		return
	}

	preview, err := h.resets.PreviewResetToken(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ResetTokenResponse{Valid: true, ExpiresAt: preview.ExpiresAt})
}

// ResetPassword redeems a reset token and sets the new password
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.resets.ResetPassword(r.Context(), req.Token, req.NewPassword, h.clientIP(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset. Please log in."})
}

// VerifyEmail consumes an email verification token
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.verification.VerifyEmail(r.Context(), req.Token, h.clientIP(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}
