package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// StorePinger checks counter store connectivity.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EventQueue reports security event channel usage.
type EventQueue interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedEvents() int64
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store   StorePinger
	events  EventQueue
	version string
	timeout time.Duration
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(store StorePinger, events EventQueue, version string) *HealthChecker {
	return &HealthChecker{
		store:   store,
		events:  events,
		version: version,
		timeout: 2 * time.Second,
	}
}

// Check performs health checks on all components.
//
// An unreachable store makes the service "unhealthy" even though requests
// still pass (fail-open): operators need to know protection is off.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.store.Ping(pingCtx)
		cancel()
		if err != nil {
			checks["counter_store"] = "unreachable: " + err.Error()
			healthy = false
		} else {
			checks["counter_store"] = "ok"
		}
	} else {
		checks["counter_store"] = "not configured"
	}

	if h.events != nil {
		depth := h.events.ChannelDepth()
		capacity := h.events.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["security_events"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["security_events"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.events.DroppedEvents(); drops > 0 {
			checks["security_event_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["security_events"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
