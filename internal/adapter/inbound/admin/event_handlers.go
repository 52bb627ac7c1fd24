package admin

import (
	"net/http"
	"strconv"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// eventsResponse is the JSON response for GET /admin/api/events.
type eventsResponse struct {
	Events []ratelimit.SecurityEvent `json:"events"`
	Count  int                       `json:"count"`
}

// handleListEvents returns recent security events, newest first.
// GET /admin/api/events?limit=N&client=ID
func (h *AdminAPIHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events := []ratelimit.SecurityEvent{}
	if h.eventReader != nil {
		if got := h.eventReader.Query(r.URL.Query().Get("client"), limit); got != nil {
			events = got
		}
	}
	h.respondJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
}
