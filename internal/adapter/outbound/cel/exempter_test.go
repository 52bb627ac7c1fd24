package cel

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewExempter_RejectsInvalid(t *testing.T) {
	for _, expr := range []string{"", "client_id ==", "unknown_var == 1"} {
		if _, err := NewExempter(expr, discardLogger()); err == nil {
			t.Errorf("NewExempter(%q) should fail", expr)
		}
	}
}

func TestExempter_Exempt(t *testing.T) {
	x, err := NewExempter(`ip_in_cidr(client_id, "10.0.0.0/8") || header(headers, "X-Monitor") == "uptime"`, discardLogger())
	if err != nil {
		t.Fatalf("NewExempter() error: %v", err)
	}

	tests := []struct {
		name     string
		clientID string
		header   string
		want     bool
	}{
		{"internal network", "10.9.9.9", "", true},
		{"monitor header", "203.0.113.1", "uptime", true},
		{"ordinary client", "203.0.113.1", "", false},
		{"non-ip identifier", "unknown", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
			if tt.header != "" {
				r.Header.Set("X-Monitor", tt.header)
			}
			if got := x.Exempt(r, tt.clientID); got != tt.want {
				t.Errorf("Exempt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExempter_NonBooleanIsNotExempt(t *testing.T) {
	x, err := NewExempter(`client_id`, discardLogger())
	if err != nil {
		t.Fatalf("NewExempter() error: %v", err)
	}
	if x.Exempt(httptest.NewRequest(http.MethodPost, "/", nil), "1.2.3.4") {
		t.Error("a failed evaluation must not exempt the request")
	}
}

func TestRequestContextFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/api/contact?x=1", nil)
	r.Header.Add("X-Tag", "a")
	r.Header.Add("X-Tag", "b")
	r.Header.Set("User-Agent", "monitor/1")

	rc := RequestContextFrom(r, "1.2.3.4")
	if rc.ClientID != "1.2.3.4" || rc.Method != http.MethodPost || rc.Path != "/api/contact" {
		t.Errorf("rc = %+v", rc)
	}
	if rc.Host != "example.com" || rc.UserAgent != "monitor/1" {
		t.Errorf("host/ua = %q/%q", rc.Host, rc.UserAgent)
	}
	if rc.Headers["x-tag"] != "a, b" {
		t.Errorf("x-tag = %q", rc.Headers["x-tag"])
	}
}
