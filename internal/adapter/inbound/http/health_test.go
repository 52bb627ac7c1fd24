package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seymr/contactguard/internal/adapter/outbound/memory"
	"github.com/seymr/contactguard/internal/service"
)

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type fullQueue struct{ depth, capacity int }

func (q fullQueue) ChannelDepth() int    { return q.depth }
func (q fullQueue) ChannelCapacity() int { return q.capacity }
func (q fullQueue) DroppedEvents() int64 { return 3 }

func TestHealthChecker_Healthy(t *testing.T) {
	store := memory.NewCounterStore()
	events := service.NewEventService(memory.NewEventStore(nil, 0), discardLogger(),
		service.WithEventChannelSize(100),
	)

	hc := NewHealthChecker(store, events, "test-version")
	health := hc.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["counter_store"] != "ok" {
		t.Errorf("counter_store = %q, want ok", health.Checks["counter_store"])
	}
	if !strings.HasPrefix(health.Checks["security_events"], "ok") {
		t.Errorf("security_events = %q, want ok prefix", health.Checks["security_events"])
	}
	if _, ok := health.Checks["goroutines"]; !ok {
		t.Error("goroutines check missing")
	}
}

func TestHealthChecker_StoreDown(t *testing.T) {
	hc := NewHealthChecker(downStore{}, nil, "")
	health := hc.Check(context.Background())

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", health.Status)
	}
	if !strings.HasPrefix(health.Checks["counter_store"], "unreachable") {
		t.Errorf("counter_store = %q", health.Checks["counter_store"])
	}
	if health.Checks["security_events"] != "not configured" {
		t.Errorf("security_events = %q, want not configured", health.Checks["security_events"])
	}
}

func TestHealthChecker_EventChannelNearlyFull(t *testing.T) {
	hc := NewHealthChecker(nil, fullQueue{depth: 95, capacity: 100}, "")
	health := hc.Check(context.Background())

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", health.Status)
	}
	if !strings.HasPrefix(health.Checks["security_events"], "degraded") {
		t.Errorf("security_events = %q", health.Checks["security_events"])
	}
	if health.Checks["security_event_drops"] != "3 dropped" {
		t.Errorf("security_event_drops = %q", health.Checks["security_event_drops"])
	}
	if health.Checks["counter_store"] != "not configured" {
		t.Errorf("counter_store = %q", health.Checks["counter_store"])
	}
}

func TestHealthChecker_Handler(t *testing.T) {
	tests := []struct {
		name       string
		store      StorePinger
		wantStatus int
		wantBody   string
	}{
		{"healthy", memory.NewCounterStore(), http.StatusOK, "healthy"},
		{"unhealthy", downStore{}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(tt.store, nil, "v1")
			rec := httptest.NewRecorder()
			hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", resp.Status, tt.wantBody)
			}
		})
	}
}
