package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/BradenHooton/praxis/internal/services"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// FederationServiceInterface defines the provider redirect and callback
type FederationServiceInterface interface {
	Begin(ctx context.Context, providerName, returnTo string, principal *models.Principal) (*services.FederationRedirect, error)
	Complete(ctx context.Context, providerName, state, code, sessionCopy, ip string) (*services.FederationResult, error)
}

// FederationHandler handles GET /auth/{provider} and its callback. Both are
// browser navigations, so outcomes are redirects rather than JSON.
type FederationHandler struct {
	service  FederationServiceInterface
	csrf     *auth.CSRFManager
	cookies  auth.CookieConfig
	stateTTL time.Duration
	baseURL  string
	clientIP auth.ClientIPFunc
	logger   *slog.Logger
}

// NewFederationHandler creates a new FederationHandler. baseURL is the
// application origin that failure and MFA redirects land on.
func NewFederationHandler(
	service FederationServiceInterface,
	csrf *auth.CSRFManager,
	cookies auth.CookieConfig,
	stateTTL time.Duration,
	baseURL string,
	clientIP auth.ClientIPFunc,
	logger *slog.Logger,
) *FederationHandler {
	return &FederationHandler{
		service:  service,
		csrf:     csrf,
		cookies:  cookies,
		stateTTL: stateTTL,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientIP: clientIP,
		logger:   logger,
	}
}

// Begin redirects to the provider with a fresh state
func (h *FederationHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	redirect, err := h.service.Begin(r.Context(), provider, r.URL.Query().Get("return_to"), auth.GetPrincipal(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetOAuthStateCookie(w, redirect.SessionCopy, h.stateTTL, h.cookies)
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// Callback consumes the state, exchanges the code and signs the user in
func (h *FederationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()
	sessionCopy := auth.GetOAuthStateCookie(r)
	auth.ClearOAuthStateCookie(w, h.cookies)

	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn("identity provider returned an error",
			slog.String("provider", provider),
			slog.String("error", providerErr))
	}

	// A denied consent still burns the state
	result, err := h.service.Complete(r.Context(), provider, query.Get("state"), query.Get("code"), sessionCopy, h.clientIP(r))
	if err != nil {
		h.redirectFailure(w, r, provider, err)
		return
	}

	login := result.Login
	if login.MFARequired {
		fragment := url.Values{"mfa_token": {login.MFAToken}}.Encode()
		http.Redirect(w, r, h.baseURL+"/login/mfa#"+fragment, http.StatusFound)
		return
	}

	csrfToken, err := h.csrf.GenerateToken(login.Session.SessionID)
	if err != nil {
		h.redirectFailure(w, r, provider, err)
		return
	}
	auth.SetSessionCookie(w, login.Session.SessionID, h.cookies)
	auth.SetCSRFTokenCookie(w, csrfToken, h.cookies)

	target := result.ReturnTo
	if strings.HasPrefix(target, "/") {
		target = h.baseURL + target
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *FederationHandler) redirectFailure(w http.ResponseWriter, r *http.Request, provider string, err error) {
	code := pkghttp.CodeInternal
	switch {
	case errors.Is(err, models.ErrUnknownProvider):
		writeServiceError(w, r, h.logger, err)
		return
	case errors.Is(err, models.ErrStateMismatch):
		code = pkghttp.CodeStateMismatch
	case errors.Is(err, models.ErrForbidden):
		code = pkghttp.CodeForbidden
	case errors.Is(err, models.ErrBadRequest):
		code = pkghttp.CodeBadRequest
	default:
		h.logger.Error("federated login failed",
			slog.String("provider", provider),
			slog.Any("error", err))
	}

	http.Redirect(w, r, h.baseURL+"/login?error="+url.QueryEscape(code), http.StatusFound)
}
