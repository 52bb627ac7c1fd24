package http

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/seymr/contactguard/internal/ctxkey"
	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// ClientIdentifier derives the rate limit identity of a request.
// Precedence: first X-Forwarded-For entry, X-Real-IP, host of RemoteAddr,
// then ratelimit.UnknownClient. Values are not validated as IP addresses.
func ClientIdentifier(r *http.Request) string {
	// Format: X-Forwarded-For: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if r.RemoteAddr == "" {
		return ratelimit.UnknownClient
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if host == "" {
		return ratelimit.UnknownClient
	}
	return host
}

// ClientIDFromContext returns the identifier stored by RateLimitMiddleware.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.ClientIDKey{}).(string)
	return id
}
