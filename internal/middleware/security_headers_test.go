package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("development", func(t *testing.T) {
		rr := httptest.NewRecorder()
		SecurityHeaders(SecurityHeadersConfig{Env: "development"})(ok).
			ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

		assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
		assert.Contains(t, rr.Header().Get("Content-Security-Policy"), "default-src 'none'")
		assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))
	})

	t.Run("production behind TLS proxy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		rr := httptest.NewRecorder()
		SecurityHeaders(SecurityHeadersConfig{Env: "production"})(ok).ServeHTTP(rr, req)

		assert.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
	})
}

func TestCORS(t *testing.T) {
	handler := CORS(DefaultCORSConfig([]string{"example.com"}))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		name        string
		origin      string
		method      string
		wantAllowed bool
		wantStatus  int
	}{
		{"apex domain", "https://example.com", http.MethodGet, true, http.StatusOK},
		{"subdomain preflight", "https://app.example.com", http.MethodOptions, true, http.StatusNoContent},
		{"lookalike domain", "https://evilexample.com", http.MethodGet, false, http.StatusOK},
		{"non-http scheme", "ftp://example.com", http.MethodGet, false, http.StatusOK},
		{"no origin", "", http.MethodGet, false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/auth/me", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantAllowed {
				assert.Equal(t, tt.origin, rr.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
			} else {
				assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}
