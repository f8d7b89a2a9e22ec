package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// IPResolver resolves the client address of a request. Forwarding headers are
// honored only when the direct peer is a trusted proxy.
type IPResolver struct {
	trusted []*net.IPNet
}

// NewIPResolver parses the trusted proxy ranges once. Invalid CIDRs are skipped.
func NewIPResolver(config *IPConfig) *IPResolver {
	r := &IPResolver{}
	if config == nil {
		return r
	}
	for _, cidr := range config.TrustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		r.trusted = append(r.trusted, ipNet)
	}
	return r
}

// ClientIP returns the resolved client IP for r.
//
// X-Forwarded-For is walked right to left and the first hop that is not a
// trusted proxy wins, so a client cannot prepend a forged address. X-Real-IP
// is consulted only when X-Forwarded-For yields nothing.
func (res *IPResolver) ClientIP(r *http.Request) string {
	remoteIP := remoteAddr(r)
	if !res.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				continue
			}
			if !res.isTrusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remoteIP
}

// ExtractClientIP is a convenience for one-off resolution
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	return NewIPResolver(config).ClientIP(r)
}

func (res *IPResolver) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range res.trusted {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

// remoteAddr extracts the IP address from RemoteAddr (removing port if present)
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
