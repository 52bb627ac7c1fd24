package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded for first entry", "1.2.3.4, 10.0.0.1, 10.0.0.2", "9.9.9.9", "127.0.0.1:5000", "1.2.3.4"},
		{"forwarded for trimmed", "  5.6.7.8  ", "", "127.0.0.1:5000", "5.6.7.8"},
		{"empty first entry falls through", " , 10.0.0.1", "9.9.9.9", "127.0.0.1:5000", "9.9.9.9"},
		{"real ip", "", " 9.9.9.9 ", "127.0.0.1:5000", "9.9.9.9"},
		{"remote addr host", "", "", "192.168.1.10:43210", "192.168.1.10"},
		{"remote addr ipv6", "", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"remote addr without port", "", "", "unix-socket", "unix-socket"},
		{"nothing", "", "", "", "unknown"},
		{"not validated", "not-an-ip", "", "", "not-an-ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIdentifier(r); got != tt.want {
				t.Errorf("ClientIdentifier() = %q, want %q", got, tt.want)
			}
		})
	}
}
