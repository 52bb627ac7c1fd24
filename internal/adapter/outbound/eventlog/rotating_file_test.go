package eventlog

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestOpen_RejectsRelativePath(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Path: "events.log"}, discardLogger()); err == nil {
		t.Fatal("Open() with relative path should fail")
	}
}

func TestRotatingFile_WritesDatedFile(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := filepath.Join(t.TempDir(), "logs")
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	f, err := Open(Config{Path: filepath.Join(dir, "events.log")}, discardLogger(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for _, line := range []string{`{"n":1}`, `{"n":2}`} {
		if _, err := f.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	want := filepath.Join(dir, "events-2026-03-01.log")
	if got := f.CurrentPath(); got != want {
		t.Errorf("CurrentPath() = %q, want %q", got, want)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if lines := readLines(t, want); len(lines) != 2 {
		t.Errorf("got %d lines, want 2", len(lines))
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("directory permissions = %o, want 700", perm)
	}
}

func TestRotatingFile_DateRotation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	clock := &testClock{now: time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)}
	f, err := Open(Config{Path: filepath.Join(dir, "events.log")}, discardLogger(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	_, _ = f.Write([]byte("day1\n"))
	clock.Set(time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC))
	_, _ = f.Write([]byte("day2\n"))
	_ = f.Sync()

	if got := readLines(t, filepath.Join(dir, "events-2026-03-01.log")); len(got) != 1 || got[0] != "day1" {
		t.Errorf("day 1 file = %v, want [day1]", got)
	}
	if got := readLines(t, filepath.Join(dir, "events-2026-03-02.log")); len(got) != 1 || got[0] != "day2" {
		t.Errorf("day 2 file = %v, want [day2]", got)
	}
}

func TestRotatingFile_SizeRotation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, err := Open(Config{Path: filepath.Join(dir, "events.log"), MaxFileSizeMB: 1}, discardLogger(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	big := strings.Repeat("x", 1024*1024) + "\n"
	_, _ = f.Write([]byte(big))
	_, _ = f.Write([]byte("after\n"))
	_ = f.Sync()

	want := filepath.Join(dir, "events-2026-03-01-1.log")
	if got := f.CurrentPath(); got != want {
		t.Errorf("CurrentPath() = %q, want %q", got, want)
	}
	if got := readLines(t, want); len(got) != 1 || got[0] != "after" {
		t.Errorf("rotated file = %v, want [after]", got)
	}
}

func TestRotatingFile_ResumesHighestSuffix(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	for _, name := range []string{"events-2026-03-01.log", "events-2026-03-01-2.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("old\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, err := Open(Config{Path: filepath.Join(dir, "events.log")}, discardLogger(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	if got, want := f.CurrentPath(), filepath.Join(dir, "events-2026-03-01-2.log"); got != want {
		t.Errorf("CurrentPath() = %q, want %q", got, want)
	}
}

func TestRotatingFile_RetentionCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	old := filepath.Join(dir, "events-2026-01-01.log")
	recent := filepath.Join(dir, "events-2026-02-28.log")
	other := filepath.Join(dir, "unrelated-2026-01-01.log")
	for _, p := range []string{old, recent, other} {
		if err := os.WriteFile(p, []byte("x\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f, err := Open(Config{Path: filepath.Join(dir, "events.log"), RetentionDays: 7}, discardLogger(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("file past retention should be deleted, stat err = %v", err)
	}
	for _, p := range []string{recent, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should be kept: %v", filepath.Base(p), err)
		}
	}
}

func TestRotatingFile_WriteAfterClose(t *testing.T) {
	t.Parallel()

	f, err := Open(Config{Path: filepath.Join(t.TempDir(), "events.log")}, discardLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := f.Write([]byte("late\n")); err == nil {
		t.Error("Write() after Close should fail")
	}
}
