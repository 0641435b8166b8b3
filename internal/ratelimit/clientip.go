package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the shared identity of requests that carry no usable
// address.
const UnknownClient = "unknown"

// ClientIP derives the client identity of r: the first X-Forwarded-For
// entry, then X-Real-IP, then the host part of the connection's peer
// address, then [UnknownClient].
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return UnknownClient
}
