package admin

import (
	"net/http"
	"time"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// StatsResponse is the JSON response for GET /admin/api/stats.
type StatsResponse struct {
	Allowed     int64                         `json:"allowed"`
	RateLimited int64                         `json:"rate_limited"`
	Banned      int64                         `json:"banned"`
	FailOpen    int64                         `json:"fail_open"`
	Exempt      int64                         `json:"exempt"`
	Events      map[ratelimit.EventType]int64 `json:"events"`
	Since       string                        `json:"since,omitempty"`
}

// handleGetStats returns decision counters and security event totals.
func (h *AdminAPIHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{}

	if h.statsService != nil {
		stats := h.statsService.GetStats()
		resp.Allowed = stats.Allowed
		resp.RateLimited = stats.RateLimited
		resp.Banned = stats.Banned
		resp.FailOpen = stats.FailOpen
		resp.Exempt = stats.Exempt
		resp.Events = stats.Events
		resp.Since = stats.Since.UTC().Format(time.RFC3339)
	}

	// Ensure maps are never null in JSON output.
	if resp.Events == nil {
		resp.Events = make(map[ratelimit.EventType]int64)
	}

	h.respondJSON(w, http.StatusOK, resp)
}
