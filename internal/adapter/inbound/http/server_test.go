package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

func allowAll() *stubLimiter {
	return &stubLimiter{decision: ratelimit.Decision{
		Allowed:   true,
		Limit:     5,
		Remaining: 4,
		ResetAt:   time.Now().Add(time.Hour),
		Reason:    ratelimit.ReasonOK,
	}}
}

func TestServer_Routes(t *testing.T) {
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	s := NewServer(allowAll(),
		WithLogger(discardLogger()),
		WithProtectedPath("/api/leads"),
		WithProtectedHandler(protected),
		WithAdminHandler(admin),
	)
	h := s.Handler()

	tests := []struct {
		path        string
		wantStatus  int
		wantLimited bool
	}{
		{"/api/leads", http.StatusAccepted, true},
		{"/api/leads/sub", http.StatusAccepted, true},
		{"/admin/api/stats", http.StatusTeapot, false},
		{"/health", http.StatusOK, false},
		{"/metrics", http.StatusOK, false},
		{"/api/contact", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if limited := rec.Header().Get("RateLimit-Limit") != ""; limited != tt.wantLimited {
				t.Errorf("RateLimit headers present = %v, want %v", limited, tt.wantLimited)
			}
			if tt.wantLimited && rec.Header().Get("X-Request-ID") == "" {
				t.Error("protected route should carry X-Request-ID")
			}
		})
	}
}

func TestServer_DefaultContactHandler(t *testing.T) {
	s := NewServer(allowAll(), WithLogger(discardLogger()))
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"name":"Ada","email":"ada@example.com","message":"hello"}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, DefaultProtectedPath, body))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestServer_MetricsExposeDecisions(t *testing.T) {
	s := NewServer(allowAll(), WithLogger(discardLogger()))
	h := s.Handler()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, DefaultProtectedPath, strings.NewReader(`{}`)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `contactguard_ratelimit_decisions_total{reason="ok"} 1`) {
		t.Errorf("metrics output missing decision counter:\n%s", rec.Body.String())
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServer(allowAll(), WithLogger(discardLogger()), WithListener(ln), WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 2 * time.Second}
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = client.Get("http://" + ln.Addr().String() + "/health")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
