package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// ClientIP keys the limiter; it must agree with the address the
	// handlers see so one client cannot spread across keys
	ClientIP func(r *http.Request) string
}

// RateLimitByIP limits requests per client address. It runs independently
// of the per-username lockout.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(60))
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
		}),
	}
	if config.ClientIP != nil {
		opts = append(opts, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return config.ClientIP(r), nil
		}))
	} else {
		opts = append(opts, httprate.WithKeyByIP())
	}

	return httprate.Limit(config.RequestsPerMinute, time.Minute, opts...)
}
