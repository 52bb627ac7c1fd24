// Package eventlog provides a rotating JSON Lines file for security events:
// daily rotation, size caps and retention cleanup.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Config holds the rotating file settings.
type Config struct {
	// Path names the log. "/var/log/contactguard/events.log" produces
	// events-YYYY-MM-DD.log (and events-YYYY-MM-DD-N.log after a size
	// rotation) in /var/log/contactguard.
	Path string
	// RetentionDays is the number of days to keep files (default 7).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size before rotation (default 100).
	MaxFileSizeMB int
}

// RotatingFile is an io.Writer that appends to a dated file. Each Write is
// expected to be one complete line; rotation happens between writes.
type RotatingFile struct {
	dir           string
	base          string
	pattern       *regexp.Regexp
	maxFileSize   int64
	retentionDays int
	now           func() time.Time

	mu            sync.Mutex
	current       *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a RotatingFile.
type Option func(*RotatingFile)

// WithClock overrides the time source used for file dates and retention.
func WithClock(now func() time.Time) Option {
	return func(f *RotatingFile) { f.now = now }
}

// Open creates the directory if needed, opens today's file, removes files
// past retention and starts the hourly retention loop. Close stops it.
func Open(cfg Config, logger *slog.Logger, opts ...Option) (*RotatingFile, error) {
	if cfg.Path == "" || !filepath.IsAbs(cfg.Path) {
		return nil, fmt.Errorf("event log path must be absolute, got %q", cfg.Path)
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(cfg.Path)
	base := strings.TrimSuffix(filepath.Base(cfg.Path), filepath.Ext(cfg.Path))
	if base == "" {
		base = "events"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}

	f := &RotatingFile{
		dir:           dir,
		base:          base,
		pattern:       regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`),
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
		logger:        logger,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	today := f.now().UTC().Format(dateLayout)
	if err := f.openCurrent(today); err != nil {
		return nil, err
	}
	f.cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.cleanupLoop(ctx)

	return f, nil
}

// Write appends p to the current file, rotating first when the date has
// changed or the size cap has been reached.
func (f *RotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}

	date := f.now().UTC().Format(dateLayout)
	switch {
	case date != f.currentDate:
		if err := f.rotateLocked(date, 0); err != nil {
			return 0, fmt.Errorf("date rotation: %w", err)
		}
	case f.currentSize >= f.maxFileSize:
		if err := f.rotateLocked(date, f.currentSuffix+1); err != nil {
			return 0, fmt.Errorf("size rotation: %w", err)
		}
	}

	n, err := f.current.Write(p)
	f.currentSize += int64(n)
	return n, err
}

// Sync flushes the current file to disk.
func (f *RotatingFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	return f.current.Sync()
}

// Close stops the retention loop and closes the current file.
func (f *RotatingFile) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.cancel()
	var err error
	if f.current != nil {
		_ = f.current.Sync()
		err = f.current.Close()
		f.current = nil
	}
	f.mu.Unlock()

	<-f.done
	return err
}

// CurrentPath returns the file currently written to.
func (f *RotatingFile) CurrentPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filepath.Join(f.dir, f.filename(f.currentDate, f.currentSuffix))
}

func (f *RotatingFile) filename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("%s-%s.log", f.base, date)
	}
	return fmt.Sprintf("%s-%s-%d.log", f.base, date, suffix)
}

// openCurrent resumes the highest suffix already on disk for date.
func (f *RotatingFile) openCurrent(date string) error {
	highest := 0
	for _, fi := range f.listFiles() {
		if fi.date == date && fi.suffix > highest {
			highest = fi.suffix
		}
	}
	return f.rotateLocked(date, highest)
}

// rotateLocked closes the current file and opens date/suffix.
// Must be called with f.mu held (or before the file is shared).
func (f *RotatingFile) rotateLocked(date string, suffix int) error {
	if f.current != nil {
		_ = f.current.Sync()
		_ = f.current.Close()
		f.current = nil
	}

	name := f.filename(date, suffix)
	file, err := os.OpenFile(filepath.Join(f.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open event log %s: %w", name, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat event log %s: %w", name, err)
	}

	f.current = file
	f.currentDate = date
	f.currentSuffix = suffix
	f.currentSize = info.Size()
	return nil
}

type fileInfo struct {
	name   string
	date   string
	suffix int
}

// listFiles returns this log's files ordered by date then suffix.
func (f *RotatingFile) listFiles() []fileInfo {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}
	var files []fileInfo
	for _, e := range entries {
		m := f.pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		fi := fileInfo{name: e.Name(), date: m[1]}
		if m[2] != "" {
			fi.suffix, _ = strconv.Atoi(m[2])
		}
		files = append(files, fi)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
	return files
}

// cleanup deletes files dated before the retention cutoff.
func (f *RotatingFile) cleanup() {
	cutoff := f.now().UTC().AddDate(0, 0, -f.retentionDays)
	deleted := 0
	for _, fi := range f.listFiles() {
		date, err := time.Parse(dateLayout, fi.date)
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, fi.name)); err != nil {
			f.logger.Error("event log cleanup: failed to delete file", "file", fi.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		f.logger.Info("event log cleanup completed", "deleted", deleted)
	}
}

func (f *RotatingFile) cleanupLoop(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.cleanup()
		}
	}
}
