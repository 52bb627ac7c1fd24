package admin

import (
	"net/http"
	"runtime"
	"time"
)

// BuildInfo holds build-time version information.
// Injected via WithBuildInfo option to avoid import cycles with cmd package.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// RateLimitInfo describes the active thresholds.
type RateLimitInfo struct {
	MaxRequests           int64  `json:"max_requests"`
	Window                string `json:"window"`
	SuspiciousMaxRequests int64  `json:"suspicious_max_requests"`
	SuspiciousWindow      string `json:"suspicious_window"`
	BanDuration           string `json:"ban_duration"`
	EscalationMargin      int64  `json:"escalation_margin"`
	StoreBackend          string `json:"store_backend"`
	StrictAdmission       bool   `json:"strict_admission"`
}

// SystemInfoResponse is the JSON response for GET /admin/api/system.
type SystemInfoResponse struct {
	Version   string         `json:"version"`
	Commit    string         `json:"commit"`
	BuildDate string         `json:"build_date"`
	GoVersion string         `json:"go_version"`
	OS        string         `json:"os"`
	Arch      string         `json:"arch"`
	Uptime    string         `json:"uptime"`
	UptimeSec int64          `json:"uptime_seconds"`
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`
}

// handleSystemInfo returns version, uptime, runtime and limiter settings.
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	version := "dev"
	commit := "none"
	buildDate := "unknown"

	if h.buildInfo != nil {
		version = h.buildInfo.Version
		commit = h.buildInfo.Commit
		buildDate = h.buildInfo.BuildDate
	}

	resp := SystemInfoResponse{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    uptime.Truncate(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}

	if cfg := h.rateLimitConfig; cfg != nil {
		resp.RateLimit = &RateLimitInfo{
			MaxRequests:           cfg.Normal.Max,
			Window:                cfg.Normal.Window.String(),
			SuspiciousMaxRequests: cfg.Suspicious.Max,
			SuspiciousWindow:      cfg.Suspicious.Window.String(),
			BanDuration:           cfg.BanDuration.String(),
			EscalationMargin:      cfg.EscalationMargin,
			StoreBackend:          h.storeBackend,
			StrictAdmission:       h.strictAdmission,
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}
