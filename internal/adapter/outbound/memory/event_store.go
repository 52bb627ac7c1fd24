package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

const defaultRecentCap = 500

// EventStore implements ratelimit.EventSink as JSON lines on a writer, and
// keeps a bounded ring buffer of recent events for admin queries.
type EventStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []ratelimit.SecurityEvent
	cap     int
}

// NewEventStore creates a store writing to w. A nil w keeps events in memory only.
// Capacity <= 0 selects the default of 500.
func NewEventStore(w io.Writer, capacity int) *EventStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	s := &EventStore{
		writer: w,
		recent: make([]ratelimit.SecurityEvent, 0, capacity),
		cap:    capacity,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes events and adds them to the ring buffer. Events are
// buffered even when encoding fails; the first encoding error is returned.
func (s *EventStore) Append(_ context.Context, events ...ratelimit.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, e := range events {
		if s.encoder != nil {
			if err := s.encoder.Encode(e); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = e
		} else {
			s.recent = append(s.recent, e)
		}
	}
	return firstErr
}

// syncer is implemented by *os.File and eventlog.RotatingFile.
type syncer interface {
	Sync() error
}

// Flush syncs file-backed writers.
func (s *EventStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isStdStream(s.writer) {
		return nil
	}
	if f, ok := s.writer.(syncer); ok {
		return f.Sync()
	}
	return nil
}

// Close closes the writer unless it is stdout or stderr.
func (s *EventStore) Close() error {
	if isStdStream(s.writer) {
		return nil
	}
	if c, ok := s.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func isStdStream(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (f == os.Stdout || f == os.Stderr)
}

// Recent returns up to limit events, newest first.
func (s *EventStore) Recent(limit int) []ratelimit.SecurityEvent {
	return s.Query("", limit)
}

// Query returns up to limit events for clientID (all clients when empty), newest first.
func (s *EventStore) Query(clientID string, limit int) []ratelimit.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	result := make([]ratelimit.SecurityEvent, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		if clientID != "" && s.recent[i].ClientID != clientID {
			continue
		}
		result = append(result, s.recent[i])
	}
	return result
}

var (
	_ ratelimit.EventSink   = (*EventStore)(nil)
	_ ratelimit.EventReader = (*EventStore)(nil)
)
