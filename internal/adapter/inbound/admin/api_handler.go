// Package admin provides the JSON admin API for contactguard.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
	"github.com/seymr/contactguard/internal/service"
)

// ClientManager performs operator actions on a client. Implemented by
// service.LimiterService.
type ClientManager interface {
	Inspect(ctx context.Context, clientID string) (ratelimit.Snapshot, error)
	Ban(ctx context.Context, clientID string) error
	Unban(ctx context.Context, clientID string) error
	Reset(ctx context.Context, clientID string) error
}

// EventReader provides read access to recent security events.
// Implemented by memory.EventStore.
type EventReader interface {
	// Query returns up to limit recent events, newest first. An empty
	// clientID matches every client.
	Query(clientID string, limit int) []ratelimit.SecurityEvent
}

// AdminAPIHandler provides JSON API endpoints for operators.
type AdminAPIHandler struct {
	clients           ClientManager
	eventReader       EventReader
	statsService      *service.StatsService
	rateLimitConfig   *ratelimit.Config
	storeBackend      string
	strictAdmission   bool
	tokenHash         string
	requestsPerMinute int
	buildInfo         *BuildInfo
	logger            *slog.Logger
	startTime         time.Time
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithClientManager sets the service behind the client endpoints.
func WithClientManager(c ClientManager) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.clients = c }
}

// WithEventReader sets the security event reader.
func WithEventReader(r EventReader) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.eventReader = r }
}

// WithStatsService sets the stats service for decision counters.
func WithStatsService(s *service.StatsService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.statsService = s }
}

// WithRateLimitConfig exposes the active thresholds on the system endpoint.
func WithRateLimitConfig(cfg ratelimit.Config, backend string, strict bool) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		h.rateLimitConfig = &cfg
		h.storeBackend = backend
		h.strictAdmission = strict
	}
}

// WithTokenHash enables remote access for bearer tokens matching the
// Argon2id PHC hash. Without it the API is localhost only.
func WithTokenHash(hash string) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.tokenHash = hash }
}

// WithRequestsPerMinute sets the per-IP throttle for remote callers. Default 60.
func WithRequestsPerMinute(n int) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		if n > 0 {
			h.requestsPerMinute = n
		}
	}
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// WithBuildInfo sets the build version information.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:            slog.Default(),
		startTime:         time.Now().UTC(),
		requestsPerMinute: 60,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
// Auth status is accessible without auth middleware; every other route
// requires localhost or a valid bearer token.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/api/auth/status", h.handleAuthStatus)

	protectedMux := http.NewServeMux()

	// Client operations.
	protectedMux.HandleFunc("GET /admin/api/clients/{id}", h.handleInspectClient)
	protectedMux.HandleFunc("PUT /admin/api/clients/{id}/ban", h.handleBanClient)
	protectedMux.HandleFunc("DELETE /admin/api/clients/{id}/ban", h.handleUnbanClient)
	protectedMux.HandleFunc("POST /admin/api/clients/{id}/reset", h.handleResetClient)

	// Stats, system info, and security events.
	protectedMux.HandleFunc("GET /admin/api/stats", h.handleGetStats)
	protectedMux.HandleFunc("GET /admin/api/system", h.handleSystemInfo)
	protectedMux.HandleFunc("GET /admin/api/events", h.handleListEvents)

	mux.Handle("/admin/api/", h.adminAuthMiddleware(protectedMux))

	rateLimited := apiRateLimitMiddleware(h.requestsPerMinute, time.Minute, mux)
	csrfProtected := csrfMiddleware(rateLimited)
	return securityHeadersMiddleware(csrfProtected)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// pathParam extracts a named path parameter from the request URL.
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
