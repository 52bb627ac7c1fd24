package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seymr/contactguard/internal/ctxkey"
)

func TestNewUpstreamProxy_RejectsBadURLs(t *testing.T) {
	tests := []string{
		"ftp://example.com",
		"file:///etc/passwd",
		"http://",
		"://bad",
	}
	for _, raw := range tests {
		if _, err := NewUpstreamProxy(raw, time.Second, discardLogger()); err == nil {
			t.Errorf("NewUpstreamProxy(%q) should fail", raw)
		}
	}
}

func TestUpstreamProxy_Forwards(t *testing.T) {
	var got *http.Request
	var gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	proxy, err := NewUpstreamProxy(backend.URL+"/leads/", time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewUpstreamProxy: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/contact?src=web", strings.NewReader(`{"name":"a"}`))
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	r.RemoteAddr = "10.0.0.9:1234"
	ctx := context.WithValue(r.Context(), ctxkey.ClientIDKey{}, "198.51.100.7")
	ctx = context.WithValue(ctx, ctxkey.RequestIDKey{}, "req-123")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, r.WithContext(ctx))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("X-Backend") != "yes" {
		t.Error("response headers not relayed")
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", rec.Body.String())
	}

	if got.URL.Path != "/leads/api/contact" {
		t.Errorf("upstream path = %q", got.URL.Path)
	}
	if got.URL.RawQuery != "src=web" {
		t.Errorf("upstream query = %q", got.URL.RawQuery)
	}
	if gotBody != `{"name":"a"}` {
		t.Errorf("upstream body = %q", gotBody)
	}
	if got.Header.Get("X-Forwarded-For") != "198.51.100.7, 10.0.0.9" {
		t.Errorf("X-Forwarded-For = %q", got.Header.Get("X-Forwarded-For"))
	}
	if got.Header.Get("X-Request-ID") != "req-123" {
		t.Errorf("X-Request-ID = %q", got.Header.Get("X-Request-ID"))
	}
	if got.Header.Get("X-Forwarded-Proto") != "http" {
		t.Errorf("X-Forwarded-Proto = %q", got.Header.Get("X-Forwarded-Proto"))
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Error("end-to-end headers must be forwarded")
	}
}

func TestUpstreamProxy_ForwardedForWithoutPriorHop(t *testing.T) {
	var gotXFF string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
	}))
	defer backend.Close()

	proxy, err := NewUpstreamProxy(backend.URL, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewUpstreamProxy: %v", err)
	}

	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"10.0.0.9:1234", "10.0.0.9"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"unix-socket", "unix-socket"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
		r.RemoteAddr = tt.remoteAddr
		proxy.ServeHTTP(httptest.NewRecorder(), r)
		if gotXFF != tt.want {
			t.Errorf("RemoteAddr %q: X-Forwarded-For = %q, want %q", tt.remoteAddr, gotXFF, tt.want)
		}
	}
}

func TestUpstreamProxy_DoesNotFollowRedirects(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.example/", http.StatusFound)
	}))
	defer backend.Close()

	proxy, err := NewUpstreamProxy(backend.URL, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewUpstreamProxy: %v", err)
	}
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/contact", nil))

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302 relayed", rec.Code)
	}
	if rec.Header().Get("Location") != "https://elsewhere.example/" {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
}

func TestUpstreamProxy_Unreachable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	addr := backend.URL
	backend.Close()

	proxy, err := NewUpstreamProxy(addr, 200*time.Millisecond, discardLogger())
	if err != nil {
		t.Fatalf("NewUpstreamProxy: %v", err)
	}
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/contact", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream unreachable") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
