package cel

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	if eval == nil {
		t.Fatal("NewEvaluator() returned nil")
	}
}

func TestCompile_InvalidExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	if _, err := eval.Compile(`this is not valid CEL !!!`); err == nil {
		t.Fatal("Compile() expected error for invalid expression, got nil")
	}
	if _, err := eval.Compile(`tool_name == "x"`); err == nil {
		t.Fatal("Compile() should reject undeclared variables")
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	rc := RequestContext{
		ClientID:    "10.1.2.3",
		Method:      "POST",
		Path:        "/api/contact",
		Host:        "example.com",
		UserAgent:   "UptimeRobot/2.0",
		Headers:     map[string]string{"x-monitor": "uptime"},
		RequestTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`client_id == "10.1.2.3"`, true},
		{`client_id == "127.0.0.1"`, false},
		{`ip_in_cidr(client_id, "10.0.0.0/8")`, true},
		{`ip_in_cidr(client_id, "192.168.0.0/16")`, false},
		{`ip_in_cidr(client_id, "not-a-cidr")`, false},
		{`glob("/api/*", path)`, true},
		{`method == "GET"`, false},
		{`user_agent.startsWith("UptimeRobot")`, true},
		{`header(headers, "X-Monitor") == "uptime"`, true},
		{`header(headers, "X-Missing") == ""`, true},
		{`"x-monitor" in headers`, true},
		{`host.lowerAscii() == "example.com"`, true},
		{`request_time.getHours() == 12`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			prg, err := eval.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tt.expr, err)
			}
			got, err := eval.Evaluate(context.Background(), prg, rc)
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_NonBoolean(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	prg, err := eval.Compile(`client_id`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if _, err := eval.Evaluate(context.Background(), prg, RequestContext{ClientID: "x"}); err == nil {
		t.Error("expected error for non-boolean result")
	}
}

func TestIPInCIDR_IPv6(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	prg, err := eval.Compile(`ip_in_cidr(client_id, "2001:db8::/32")`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	got, err := eval.Evaluate(context.Background(), prg, RequestContext{ClientID: "2001:db8::1"})
	if err != nil || !got {
		t.Errorf("Evaluate() = %v, %v; want true", got, err)
	}
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"valid", `client_id == "127.0.0.1"`, ""},
		{"empty", ``, "empty"},
		{"too long", `client_id == "` + strings.Repeat("a", maxExpressionLength) + `"`, "too long"},
		{"too deep", strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1), "nesting too deep"},
		{"syntax", `client_id ==`, "invalid CEL expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateExpression() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateExpression() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildActivation_Defaults(t *testing.T) {
	act := BuildActivation(RequestContext{})
	if h, ok := act["headers"].(map[string]string); !ok || h == nil {
		t.Error("headers should default to an empty map")
	}
	if ts, ok := act["request_time"].(time.Time); !ok || ts.IsZero() {
		t.Error("request_time should default to now")
	}
}
