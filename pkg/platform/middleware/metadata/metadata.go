// Package metadata extracts client metadata (IP, User-Agent, device family)
// from the request and stores it in the context for handlers, services, and
// the security audit trail.
package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"guestgate/pkg/requestcontext"
)

// ClientMetadata extracts the client IP address, raw User-Agent, and parsed
// device family from the request and adds them to the context. The raw
// User-Agent never reaches persisted audit events; only the coarse device
// family does. This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIPFromRequest(r)
		ua := r.Header.Get("User-Agent")

		ctx := requestcontext.WithClientMetadata(r.Context(), ip, ua, DeviceFamily(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceFamily reduces a raw User-Agent string to a coarse, non-identifying
// label ("Chrome", "Safari Mobile", "bot") for security events.
func DeviceFamily(uaString string) string {
	if uaString == "" {
		return ""
	}
	parsed := useragent.New(uaString)
	if parsed.Bot() {
		return "bot"
	}
	name, _ := parsed.Browser()
	if name == "" {
		return "unknown"
	}
	if parsed.Mobile() {
		return name + " Mobile"
	}
	return name
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// Check X-Forwarded-For header first (standard for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		// Take the first IP which is the original client
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header (used by nginx and other proxies)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (direct connection)
	// RemoteAddr is in format "ip:port", so we need to strip the port
	if addr := r.RemoteAddr; addr != "" {
		// For IPv6, format is [::1]:port
		// For IPv4, format is 127.0.0.1:port
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
