package admin

import (
	"net/http"
)

// authStatusResponse is the JSON response for GET /admin/api/auth/status.
type authStatusResponse struct {
	AuthRequired    bool `json:"auth_required"`
	TokenConfigured bool `json:"token_configured"`
	Localhost       bool `json:"localhost"`
}

// handleAuthStatus returns authentication status information.
// GET /admin/api/auth/status
//
//   - auth_required: true if the request is NOT from localhost
//   - token_configured: true if remote bearer access is enabled
//   - localhost: true if the request originates from a loopback address
func (h *AdminAPIHandler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, authStatusResponse{
		AuthRequired:    !isLocalhost(r),
		TokenConfigured: h.tokenHash != "",
		Localhost:       isLocalhost(r),
	})
}
