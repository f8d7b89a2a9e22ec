package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/praxis/internal/auth"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// CSRFConfig configures CSRFProtection
type CSRFConfig struct {
	Manager *auth.CSRFManager
	// ExemptPaths bypass the check; a trailing "*" matches a prefix and
	// "{provider}" matches one path segment
	ExemptPaths []string
	Logger      *slog.Logger
}

// CSRFProtection validates CSRF tokens on state-changing requests using a
// double-submit cookie whose value is also HMAC-bound to the session id.
// Requests that carry a bearer token and no session cookie are not
// cookie-driven and pass through.
func CSRFProtection(config CSRFConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) || isExempt(r.URL.Path, config.ExemptPaths) {
				next.ServeHTTP(w, r)
				return
			}

			sessionID, hasSession := auth.GetSessionCookie(r)
			if _, bearer := auth.BearerToken(r); bearer && !hasSession {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(auth.CSRFHeaderName)
			cookie, hasCookie := auth.GetCSRFTokenCookie(r)
			if header == "" || !hasCookie {
				config.Logger.Warn("CSRF token missing",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				pkghttp.WriteError(w, http.StatusForbidden, pkghttp.CodeCSRF, "CSRF token missing")
				return
			}

			if subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 ||
				!config.Manager.ValidateToken(header, sessionID) {
				config.Logger.Warn("CSRF token validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("session", hasSession))
				pkghttp.WriteError(w, http.StatusForbidden, pkghttp.CodeCSRF, "CSRF token invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

func isExempt(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchPath(path, pattern) {
			return true
		}
	}
	return false
}

func matchPath(path, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}

	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if strings.HasPrefix(want[i], "{") && strings.HasSuffix(want[i], "}") {
			continue
		}
		if want[i] != got[i] {
			return false
		}
	}
	return true
}
