package admin

import (
	"errors"
	"net/http"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// clientActionResponse acknowledges ban, unban and reset.
type clientActionResponse struct {
	ClientID string `json:"client_id"`
	Action   string `json:"action"`
	Success  bool   `json:"success"`
}

// handleInspectClient returns the client's current snapshot.
// GET /admin/api/clients/{id}
func (h *AdminAPIHandler) handleInspectClient(w http.ResponseWriter, r *http.Request) {
	if h.clients == nil {
		h.respondError(w, http.StatusServiceUnavailable, "limiter not configured")
		return
	}
	id := h.pathParam(r, "id")
	snap, err := h.clients.Inspect(r.Context(), id)
	if err != nil {
		h.respondClientError(w, "inspect", id, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// handleBanClient bans a client for the configured ban duration.
// PUT /admin/api/clients/{id}/ban
func (h *AdminAPIHandler) handleBanClient(w http.ResponseWriter, r *http.Request) {
	h.clientAction(w, r, "ban")
}

// handleUnbanClient lifts a ban. Counters are left untouched.
// DELETE /admin/api/clients/{id}/ban
func (h *AdminAPIHandler) handleUnbanClient(w http.ResponseWriter, r *http.Request) {
	h.clientAction(w, r, "unban")
}

// handleResetClient clears the counter and suspicion flag, keeping any ban.
// POST /admin/api/clients/{id}/reset
func (h *AdminAPIHandler) handleResetClient(w http.ResponseWriter, r *http.Request) {
	h.clientAction(w, r, "reset")
}

func (h *AdminAPIHandler) clientAction(w http.ResponseWriter, r *http.Request, action string) {
	if h.clients == nil {
		h.respondError(w, http.StatusServiceUnavailable, "limiter not configured")
		return
	}
	id := h.pathParam(r, "id")
	var err error
	switch action {
	case "ban":
		err = h.clients.Ban(r.Context(), id)
	case "unban":
		err = h.clients.Unban(r.Context(), id)
	case "reset":
		err = h.clients.Reset(r.Context(), id)
	}
	if err != nil {
		h.respondClientError(w, action, id, err)
		return
	}
	h.logger.Info("admin client action", "action", action, "client_id", id, "remote_addr", r.RemoteAddr)
	h.respondJSON(w, http.StatusOK, clientActionResponse{ClientID: id, Action: action, Success: true})
}

func (h *AdminAPIHandler) respondClientError(w http.ResponseWriter, action, id string, err error) {
	if errors.Is(err, ratelimit.ErrInvalidClientID) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("admin client action failed", "action", action, "client_id", id, "error", err)
	h.respondError(w, http.StatusInternalServerError, "store error: "+err.Error())
}
