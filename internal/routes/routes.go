package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/handlers"
	"github.com/BradenHooton/praxis/internal/middleware"
	"github.com/BradenHooton/praxis/internal/models"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth       *handlers.AuthHandler
	Account    *handlers.AccountHandler
	MFA        *handlers.MFAHandler
	Federation *handlers.FederationHandler
	Admin      *handlers.AdminHandler
	Health     *handlers.HealthHandler
}

// CSRFExemptPaths are not driven by the session cookie: bearer issuance and
// provider callbacks, which are protected by the OAuth state instead
var CSRFExemptPaths = []string{
	"/auth/token",
	"/auth/{provider}/callback",
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	authMiddleware *auth.Middleware,
	csrf middleware.CSRFConfig,
	rateLimit middleware.RateLimitConfig,
) {
	csrf.ExemptPaths = CSRFExemptPaths
	csrfProtection := middleware.CSRFProtection(csrf)

	// Separate budgets so reset traffic cannot starve logins
	loginLimit := middleware.RateLimitByIP(rateLimit)
	accountLimit := middleware.RateLimitByIP(rateLimit)

	router.Get("/health", h.Health.Health)

	router.Route("/auth", func(r chi.Router) {
		r.Use(csrfProtection)

		// Public routes - no authentication required
		r.With(loginLimit).Post("/login", h.Auth.Login)
		r.With(loginLimit).Post("/login/mfa", h.Auth.LoginMFA)
		r.With(loginLimit).Post("/token", h.Auth.Token)

		r.With(accountLimit).Post("/register", h.Auth.Register)
		r.With(accountLimit).Post("/forgot-password", h.Account.ForgotPassword)
		r.With(accountLimit).Get("/reset-password/{token}", h.Account.PreviewResetToken)
		r.With(accountLimit).Post("/reset-password", h.Account.ResetPassword)
		r.With(accountLimit).Post("/verify-email", h.Account.VerifyEmail)

		r.Get("/csrf-token", h.Auth.CSRFToken)
		r.Get("/session-status", h.Auth.SessionStatus)

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)

			r.Get("/me", h.Auth.Me)
			r.Post("/logout", h.Auth.Logout)
			r.Post("/logout-all", h.Auth.LogoutAll)
			r.With(accountLimit).Post("/change-password", h.Auth.ChangePassword)

			r.Route("/mfa", func(r chi.Router) {
				r.Use(accountLimit)
				r.Post("/enroll", h.MFA.Enroll)
				r.Post("/confirm", h.MFA.Confirm)
				r.Post("/disable", h.MFA.Disable)
				r.Post("/recovery-codes", h.MFA.RegenerateRecoveryCodes)
			})
		})

		// Federation; static routes above take precedence over {provider}
		// A signed-in user starting the flow links the provider to their account
		r.With(loginLimit, authMiddleware.OptionalAuth).Get("/{provider}", h.Federation.Begin)
		r.With(loginLimit).Get("/{provider}/callback", h.Federation.Callback)
	})

	// Admin-only routes
	router.Route("/admin", func(r chi.Router) {
		r.Use(csrfProtection)
		r.Use(authMiddleware.RequireAuth)
		r.Use(auth.RequireRole(models.RoleAdmin))

		r.Post("/lockouts/clear", h.Admin.ClearLockout)
	})
}
