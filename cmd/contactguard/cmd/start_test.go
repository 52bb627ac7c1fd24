package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/goleak"

	"github.com/seymr/contactguard/internal/adapter/inbound/http"
	"github.com/seymr/contactguard/internal/config"
	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Store.Backend = config.BackendMemory
	cfg.SetDefaults()
	return cfg
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenCounterStore_Memory(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openCounterStore(ctx, testConfig(t), discardLogger())
	if err != nil {
		t.Fatalf("openCounterStore() error = %v", err)
	}
	n, err := store.Increment(ctx, "seymr:ratelimit:a", time.Hour)
	if err != nil || n != 1 {
		t.Errorf("Increment() = %d, %v, want 1", n, err)
	}
	closeStore()
}

func TestOpenCounterStore_RedisDownIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout = "100ms"

	store, closeStore, err := openCounterStore(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("openCounterStore() error = %v", err)
	}
	defer closeStore()
	if store == nil {
		t.Fatal("store should be returned even when redis is down")
	}
}

func TestOpenCounterStore_UnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Backend = "etcd"
	if _, _, err := openCounterStore(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestOpenEventStore(t *testing.T) {
	t.Parallel()

	event := ratelimit.SecurityEvent{Type: ratelimit.EventBanned, ClientID: "1.2.3.4", Source: "limiter"}

	t.Run("none keeps events in memory", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Events.Output = "none"
		store, err := openEventStore(cfg, discardLogger())
		if err != nil {
			t.Fatalf("openEventStore() error = %v", err)
		}
		_ = store.Append(context.Background(), event)
		if got := store.Query("1.2.3.4", 10); len(got) != 1 {
			t.Errorf("Query() returned %d events, want 1", len(got))
		}
	})

	t.Run("file writes JSON lines", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		cfg := testConfig(t)
		cfg.Events.Output = "file://" + filepath.Join(dir, "events.log")
		store, err := openEventStore(cfg, discardLogger())
		if err != nil {
			t.Fatalf("openEventStore() error = %v", err)
		}
		_ = store.Append(context.Background(), event)
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		matches, _ := filepath.Glob(filepath.Join(dir, "events-*.log"))
		if len(matches) != 1 {
			t.Fatalf("event files = %v, want one", matches)
		}
		data, _ := os.ReadFile(matches[0])
		if !strings.Contains(string(data), `"client_id":"1.2.3.4"`) {
			t.Errorf("event file content = %s", data)
		}
	})

	t.Run("unsupported output", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Events.Output = "syslog"
		if _, err := openEventStore(cfg, discardLogger()); err == nil {
			t.Error("unsupported output should fail")
		}
	})
}

func TestProtectedHandler(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	h, err := protectedHandler(cfg, discardLogger())
	if err != nil {
		t.Fatalf("protectedHandler() error = %v", err)
	}
	if _, ok := h.(*http.ContactHandler); !ok {
		t.Errorf("handler = %T, want *http.ContactHandler without upstream", h)
	}

	cfg.Upstream.URL = "https://leads.example.com"
	h, err = protectedHandler(cfg, discardLogger())
	if err != nil {
		t.Fatalf("protectedHandler() error = %v", err)
	}
	if _, ok := h.(*http.UpstreamProxy); !ok {
		t.Errorf("handler = %T, want *http.UpstreamProxy", h)
	}

	cfg.Upstream.URL = "ftp://leads.example.com"
	if _, err := protectedHandler(cfg, discardLogger()); err == nil {
		t.Error("non-http upstream should fail")
	}
}

func TestSetupTracing(t *testing.T) {
	shutdown, err := setupTracing(false, io.Discard)
	if err != nil {
		t.Fatalf("setupTracing(false) error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown error = %v", err)
	}

	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err = setupTracing(true, &buf)
	if err != nil {
		t.Fatalf("setupTracing(true) error = %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "limiter.CheckLimit")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	if !strings.Contains(buf.String(), "limiter.CheckLimit") {
		t.Errorf("exported spans missing span name: %s", buf.String())
	}
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")
	t.Setenv("CONTACTGUARD_PID_FILE", path)

	if got := pidFilePath(); got != path {
		t.Fatalf("pidFilePath() = %q, want %q", got, path)
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error = %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}

	_ = os.WriteFile(path, []byte("garbage"), 0o644)
	if got := readPIDFile(path); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
	if got := readPIDFile(filepath.Join(t.TempDir(), "missing.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
}

func TestPrintBanner(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	var buf bytes.Buffer
	printBanner(&buf, cfg, ratelimit.DefaultConfig())

	for _, want := range []string{"http://127.0.0.1:8080/api/contact", "/admin/api", "memory", "5/1h0m0s"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("banner missing %q:\n%s", want, buf.String())
		}
	}
}

func TestHashKeyCommand(t *testing.T) {
	var out bytes.Buffer
	hashKeyCmd.SetOut(&out)
	t.Cleanup(func() { hashKeyCmd.SetOut(nil) })

	if err := hashKeyCmd.RunE(hashKeyCmd, []string{"s3cret"}); err != nil {
		t.Fatalf("hash-key error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "$argon2id$") {
		t.Errorf("hash-key output = %q, want argon2id PHC string", out.String())
	}
}
