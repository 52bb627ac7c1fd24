package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// hopByHopHeaders are stripped before forwarding (RFC 7230 section 6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// UpstreamProxy forwards admitted requests to the contact backend.
type UpstreamProxy struct {
	target *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewUpstreamProxy creates a forwarder for rawURL. Only http and https are accepted.
func NewUpstreamProxy(rawURL string, timeout time.Duration, logger *slog.Logger) (*UpstreamProxy, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream url %q has no host", rawURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &UpstreamProxy{
		target: u,
		client: &http.Client{
			Timeout: timeout,
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// ServeHTTP forwards r to the upstream, joining the upstream base path with
// the request path.
func (p *UpstreamProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstreamURL := *p.target
	upstreamURL.Path = strings.TrimRight(p.target.Path, "/") + r.URL.Path
	upstreamURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		p.logger.Error("failed to create upstream request", "error", err, "url", upstreamURL.String())
		writeGatewayError(w, "failed to create upstream request")
		return
	}
	outReq.ContentLength = r.ContentLength

	for key, values := range r.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}

	// X-Forwarded-For gains the transport peer, never the resolved client id.
	peerIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if peerIP == "" {
		peerIP = r.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+peerIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", peerIP)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	if id := RequestIDFromContext(r.Context()); id != "" {
		outReq.Header.Set("X-Request-ID", id)
	}

	resp, err := p.client.Do(outReq)
	if err != nil {
		LoggerFromContext(r.Context()).Error("upstream unreachable", "error", err, "url", upstreamURL.String())
		writeGatewayError(w, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("error copying upstream response body", "error", err)
	}
}

func writeGatewayError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "Bad gateway",
		"message": msg,
	})
}
