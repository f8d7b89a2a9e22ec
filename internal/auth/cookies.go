package auth

import (
	"net/http"
	"time"
)

// Cookie names
const (
	SessionCookieName    = "praxis_session"
	CSRFCookieName       = "praxis_csrf"
	OAuthStateCookieName = "praxis_oauth_state"
	CSRFHeaderName       = "X-CSRF-Token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
	MaxAge   time.Duration
}

// SetSessionCookie stores the session handle in an httpOnly cookie
func SetSessionCookie(w http.ResponseWriter, sessionID string, config CookieConfig) {
	setCookie(w, SessionCookieName, sessionID, int(config.MaxAge.Seconds()), true, config)
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	setCookie(w, SessionCookieName, "", -1, true, config)
}

// GetSessionCookie retrieves the session id from cookies
func GetSessionCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// SetCSRFTokenCookie sets the CSRF token in a readable cookie (not httpOnly)
// so scripts can echo it in the X-CSRF-Token header
func SetCSRFTokenCookie(w http.ResponseWriter, csrfToken string, config CookieConfig) {
	setCookie(w, CSRFCookieName, csrfToken, int(config.MaxAge.Seconds()), false, config)
}

// GetCSRFTokenCookie retrieves the CSRF token from cookies
func GetCSRFTokenCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// SetOAuthStateCookie stores the session copy of an OAuth state for the
// duration of the provider round trip. SameSite is forced to lax so the
// cookie survives the top-level redirect back from the provider.
func SetOAuthStateCookie(w http.ResponseWriter, value string, ttl time.Duration, config CookieConfig) {
	config.SameSite = "lax"
	cookie := &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    value,
		Path:     "/auth",
		Domain:   config.Domain,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}
	http.SetCookie(w, cookie)
}

// GetOAuthStateCookie retrieves the OAuth state session copy
func GetOAuthStateCookie(r *http.Request) string {
	cookie, err := r.Cookie(OAuthStateCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearOAuthStateCookie expires the OAuth state cookie
func ClearOAuthStateCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func setCookie(w http.ResponseWriter, name, value string, maxAge int, httpOnly bool, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}
	if maxAge > 0 {
		cookie.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	http.SetCookie(w, cookie)
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
