package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/praxis/pkg/http"
	"github.com/stretchr/testify/assert"
)

func trustedConfig() *pkghttp.IPConfig {
	return &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "fd00::/8", "127.0.0.1/32"}}
}

func TestClientIP_DirectConnection_IgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	ip := pkghttp.NewIPResolver(trustedConfig()).ClientIP(req)
	assert.Equal(t, "203.0.113.10", ip)
}

func TestClientIP_TrustedProxy_UsesForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.42, 10.0.0.5")

	ip := pkghttp.NewIPResolver(trustedConfig()).ClientIP(req)
	assert.Equal(t, "203.0.113.42", ip)
}

func TestClientIP_TrustedProxy_IgnoresForgedLeftmostHop(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	// Client sent its own XFF of 1.1.1.1; the proxy appended the real peer
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 198.51.100.7")

	ip := pkghttp.NewIPResolver(trustedConfig()).ClientIP(req)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestClientIP_IPv6_TrustedProxy(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[fd00::1]:443"
	req.Header.Set("X-Forwarded-For", "2001:db8::10")

	ip := pkghttp.NewIPResolver(trustedConfig()).ClientIP(req)
	assert.Equal(t, "2001:db8::10", ip)
}

func TestClientIP_RealIPFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Real-IP", "203.0.113.99")

	ip := pkghttp.NewIPResolver(trustedConfig()).ClientIP(req)
	assert.Equal(t, "203.0.113.99", ip)
}

func TestClientIP_NoConfig_DefaultsSecurely(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "127.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")

	assert.Equal(t, "127.0.0.1", pkghttp.ExtractClientIP(req, nil))
	assert.Equal(t, "127.0.0.1", pkghttp.ExtractClientIP(req, &pkghttp.IPConfig{}))
}

func TestClientIP_InvalidCIDR_Ignored(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.42")

	ip := pkghttp.ExtractClientIP(req, &pkghttp.IPConfig{TrustedProxies: []string{"not-a-cidr"}})
	assert.Equal(t, "10.0.0.5", ip)
}

func TestClientIP_RemoteAddrWithoutPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10"

	assert.Equal(t, "203.0.113.10", pkghttp.ExtractClientIP(req, nil))
}
