package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/BradenHooton/praxis/internal/services"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, creds services.PasswordCredentials) (*services.LoginResult, error)
	CompleteMFALogin(ctx context.Context, mfaToken, code, ip string) (*services.LoginResult, error)
	IssueBearerToken(ctx context.Context, creds services.PasswordCredentials) (*services.TokenResult, error)
	Logout(ctx context.Context, principal *models.Principal, ip string) error
	LogoutAll(ctx context.Context, principal *models.Principal, ip string) (int, error)
	ChangePassword(ctx context.Context, principal *models.Principal, current, next, ip string) error
	SessionStatus(ctx context.Context, sessionID string) (*models.SessionStatus, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	csrf     *auth.CSRFManager
	cookies  auth.CookieConfig
	clientIP auth.ClientIPFunc
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, csrf *auth.CSRFManager, cookies auth.CookieConfig, clientIP auth.ClientIPFunc, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		csrf:     csrf,
		cookies:  cookies,
		clientIP: clientIP,
		logger:   logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// LoginRequest represents the request body for login and token issuance
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
	Code     string `json:"code,omitempty" validate:"omitempty,max=16"`
}

// MFALoginRequest completes a challenged login
type MFALoginRequest struct {
	MFAToken string `json:"mfa_token" validate:"required"`
	Code     string `json:"code" validate:"required,max=16"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

// Response DTOs

// PrincipalResponse is the safe projection of a Principal
type PrincipalResponse struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	AuthMethod    string `json:"auth_method"`
}

// LoginResponse is returned once a session is established
type LoginResponse struct {
	User      PrincipalResponse `json:"user"`
	CSRFToken string            `json:"csrf_token"`
}

// MFAChallengeResponse is returned when a second factor must follow
type MFAChallengeResponse struct {
	MFARequired bool      `json:"mfa_required"`
	MFAToken    string    `json:"mfa_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenResponse is returned by the bearer token endpoint
type TokenResponse struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	ExpiresAt   time.Time         `json:"expires_at"`
	User        PrincipalResponse `json:"user"`
}

func newPrincipalResponse(p *models.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:            p.UserID,
		Username:      p.Username,
		Email:         p.Email,
		Role:          p.Role,
		EmailVerified: p.EmailVerified,
		MFAEnabled:    p.MFAEnabled,
		AuthMethod:    string(p.Method),
	}
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} PrincipalResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IP:       h.clientIP(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, newPrincipalResponse(models.NewPrincipal(user, models.AuthMethodPassword)))
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), services.PasswordCredentials{
		Username:     req.Username,
		Password:     req.Password,
		IP:           h.clientIP(r),
		SecondFactor: req.Code,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.writeLoginResult(w, r, result)
}

// LoginMFA completes a login that was answered with an MFA challenge
func (h *AuthHandler) LoginMFA(w http.ResponseWriter, r *http.Request) {
	var req MFALoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.CompleteMFALogin(r.Context(), req.MFAToken, req.Code, h.clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenExpired):
			pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenExpired, "Challenge expired, log in again")
		case errors.Is(err, models.ErrTokenInvalid):
			pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenInvalid, "Invalid challenge")
		default:
			writeServiceError(w, r, h.logger, err)
		}
		return
	}

	h.writeLoginResult(w, r, result)
}

// writeLoginResult sets the session cookie and a CSRF token bound to the new
// session, or returns the MFA challenge
func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, r *http.Request, result *services.LoginResult) {
	if result.MFARequired {
		pkghttp.WriteJSON(w, http.StatusOK, MFAChallengeResponse{
			MFARequired: true,
			MFAToken:    result.MFAToken,
			ExpiresAt:   result.MFAExpiresAt,
		})
		return
	}

	csrfToken, err := h.csrf.GenerateToken(result.Session.SessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, result.Session.SessionID, h.cookies)
	auth.SetCSRFTokenCookie(w, csrfToken, h.cookies)

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		User:      newPrincipalResponse(result.Principal),
		CSRFToken: csrfToken,
	})
}

// Token issues a stateless bearer token. No cookie is set.
// @Summary Bearer token issuance
// @Accept json
// @Param request body LoginRequest true "Credentials"
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/token [post]
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.IssueBearerToken(r.Context(), services.PasswordCredentials{
		Username:     req.Username,
		Password:     req.Password,
		IP:           h.clientIP(r),
		SecondFactor: req.Code,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken: result.Token,
		TokenType:   "Bearer",
		ExpiresAt:   result.ExpiresAt,
		User:        newPrincipalResponse(result.Principal),
	})
}

// Logout destroys the current session and clears the cookie
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), principal, h.clientIP(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll destroys every session of the current user
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	n, err := h.service.LogoutAll(r.Context(), principal, h.clientIP(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{"sessions_revoked": n})
}

// ChangePassword replaces the current user's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), principal, req.CurrentPassword, req.NewPassword, h.clientIP(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current principal
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newPrincipalResponse(principal))
}

// SessionStatus reports the idle budget of the cookie's session without
// touching its activity timestamp
func (h *AuthHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := auth.GetSessionCookie(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	status, err := h.service.SessionStatus(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrUnauthenticated) {
			auth.ClearSessionCookie(w, h.cookies)
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// CSRFToken issues a CSRF token bound to the caller's session cookie, or to
// the anonymous binding before login
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.GetSessionCookie(r)

	token, err := h.csrf.GenerateToken(sessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetCSRFTokenCookie(w, token, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}
