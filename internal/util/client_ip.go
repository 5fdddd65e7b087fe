package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller IP for rate limiting. X-Forwarded-For is
// consulted only when trustForwarded is set (the service sits behind a
// reverse proxy); otherwise the direct peer address wins.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := firstForwardedIP(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			return forwarded
		}
		if realIP := parseIP(r.Header.Get("X-Real-IP")); realIP != nil {
			return realIP.String()
		}
	}
	if remote := parseRemoteIP(r.RemoteAddr); remote != nil {
		return remote.String()
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func firstForwardedIP(raw string) string {
	for _, part := range strings.Split(raw, ",") {
		if ip := parseIP(part); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseRemoteIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return parseIP(host)
	}
	return parseIP(addr)
}

func parseIP(raw string) net.IP {
	return net.ParseIP(strings.TrimSpace(raw))
}
