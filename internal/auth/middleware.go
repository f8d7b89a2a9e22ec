package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/praxis/internal/models"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// PrincipalContextKey is the key for storing the authenticated principal in context
	PrincipalContextKey contextKey = "principal"
)

// PrincipalResolver turns a session handle or bearer token into a Principal
type PrincipalResolver interface {
	ResolveSession(ctx context.Context, sessionID, ip string) (*models.Principal, error)
	ResolveBearer(ctx context.Context, token string) (*models.Principal, error)
}

// ClientIPFunc resolves the caller address of a request
type ClientIPFunc func(r *http.Request) string

// Middleware authenticates requests with the session cookie or a bearer token
type Middleware struct {
	resolver PrincipalResolver
	clientIP ClientIPFunc
	cookies  CookieConfig
	logger   *slog.Logger
}

// NewMiddleware creates the authentication middleware
func NewMiddleware(resolver PrincipalResolver, clientIP ClientIPFunc, cookies CookieConfig, logger *slog.Logger) *Middleware {
	return &Middleware{
		resolver: resolver,
		clientIP: clientIP,
		cookies:  cookies,
		logger:   logger,
	}
}

// RequireAuth rejects requests without a valid principal. The session cookie
// takes precedence over an Authorization header when both are present.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.authenticate(r)
		if err != nil {
			m.writeAuthError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the principal when the request carries valid
// credentials and passes anonymous requests through unchanged. Invalid
// credentials are ignored rather than rejected.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.authenticate(r)
		if err != nil {
			if !errors.Is(err, models.ErrUnauthenticated) {
				m.logger.Debug("ignoring invalid credentials on optional auth route",
					slog.String("path", r.URL.Path),
					slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*models.Principal, error) {
	if sessionID, ok := GetSessionCookie(r); ok {
		return m.resolver.ResolveSession(r.Context(), sessionID, m.clientIP(r))
	}

	if token, ok := BearerToken(r); ok {
		return m.resolver.ResolveBearer(r.Context(), token)
	}

	return nil, models.ErrUnauthenticated
}

func (m *Middleware) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrSessionExpired):
		ClearSessionCookie(w, m.cookies)
		pkghttp.WriteSessionExpired(w)
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenExpired, "Token expired")
	case errors.Is(err, models.ErrTokenInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenInvalid, "Invalid token")
	case errors.Is(err, models.ErrUnauthenticated), errors.Is(err, models.ErrNotFound):
		// Stale cookie for a destroyed session
		if _, ok := GetSessionCookie(r); ok {
			ClearSessionCookie(w, m.cookies)
		}
		pkghttp.WriteUnauthorized(w, "Authentication required")
	default:
		m.logger.Error("failed to resolve principal",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// RequireRole enforces a fixed role; must be used after RequireAuth
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r)
			if principal == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if !principal.HasRole(role) {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from request context
func GetPrincipal(r *http.Request) *models.Principal {
	principal, ok := r.Context().Value(PrincipalContextKey).(*models.Principal)
	if !ok {
		return nil
	}
	return principal
}

// WithPrincipal returns a copy of ctx carrying principal
func WithPrincipal(ctx context.Context, principal *models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, principal)
}

// BearerToken extracts a token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
