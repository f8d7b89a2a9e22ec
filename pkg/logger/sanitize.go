package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// sensitiveParams are query keys whose presence redacts the whole query string
var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"state",
	"email",
	"auth",
	"csrf",
}

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || username == "" || domain == "" {
		return "[invalid-email]"
	}

	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	// Keep only the TLD readable
	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return username + "@" + strings.Join(labels, ".")
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString reports whether rawQuery carries a sensitive parameter
// and should be redacted as a whole before logging
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Unparseable queries are redacted rather than logged raw
		return true
	}

	for key := range values {
		key = strings.ToLower(key)
		for _, param := range sensitiveParams {
			if strings.Contains(key, param) {
				return true
			}
		}
	}
	return false
}
