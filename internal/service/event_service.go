package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// EventService delivers security events to a sink through a buffered channel
// and a background worker, so escalations never wait on event I/O.
// It implements ratelimit.EventRecorder.
type EventService struct {
	sink          ratelimit.EventSink
	eventChan     chan ratelimit.SecurityEvent
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	dropCount   atomic.Int64

	warningThreshold int          // percentage of capacity, 0 disables
	lastWarning      atomic.Int64 // unix nanos

	stopOnce sync.Once
}

// EventOption configures EventService.
type EventOption func(*EventService)

// WithEventBatchSize sets the number of events to batch before writing.
func WithEventBatchSize(size int) EventOption {
	return func(s *EventService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithEventFlushInterval sets the interval to flush pending events.
func WithEventFlushInterval(interval time.Duration) EventOption {
	return func(s *EventService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithEventChannelSize sets the size of the event channel buffer.
func WithEventChannelSize(size int) EventOption {
	return func(s *EventService) {
		if size > 0 {
			s.eventChan = make(chan ratelimit.SecurityEvent, size)
			s.channelSize = size
		}
	}
}

// WithEventWarningThreshold sets the channel depth warning percentage (0-100).
func WithEventWarningThreshold(percent int) EventOption {
	return func(s *EventService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// NewEventService creates an EventService writing to sink.
func NewEventService(sink ratelimit.EventSink, logger *slog.Logger, opts ...EventOption) *EventService {
	const defaultChannelSize = 256
	s := &EventService{
		sink:             sink,
		eventChan:        make(chan ratelimit.SecurityEvent, defaultChannelSize),
		logger:           logger,
		batchSize:        50,
		flushInterval:    time.Second,
		channelSize:      defaultChannelSize,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker.
func (s *EventService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record enqueues event without blocking. When the buffer is full the event
// is dropped and counted.
func (s *EventService) Record(_ context.Context, event ratelimit.SecurityEvent) {
	if s.warningThreshold > 0 {
		depth := len(s.eventChan)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.eventChan <- event:
	default:
		drops := s.dropCount.Add(1)
		s.logger.Warn("security event dropped",
			"type", event.Type,
			"client_id", event.ClientID,
			"total_drops", drops,
		)
	}
}

// warnChannelDepth logs at most once per second.
func (s *EventService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("security event channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
		)
	}
}

// DroppedEvents returns the total number of dropped events.
func (s *EventService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the current channel usage.
func (s *EventService) ChannelDepth() int {
	return len(s.eventChan)
}

// ChannelCapacity returns the channel buffer size.
func (s *EventService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the channel, waits for the worker to flush and exit, then
// flushes the sink. Record must not be called after Stop.
func (s *EventService) Stop() {
	s.stopOnce.Do(func() {
		close(s.eventChan)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.Flush(ctx); err != nil {
			s.logger.Error("failed to flush security event sink", "error", err)
		}
	})
}

func (s *EventService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]ratelimit.SecurityEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.flush(flushCtx, batch)
		cancel()
	}

	for {
		select {
		case event, ok := <-s.eventChan:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			for event := range s.eventChan {
				batch = append(batch, event)
			}
			finalFlush()
			return
		}
	}
}

// flush writes a batch. Errors are logged, never propagated.
func (s *EventService) flush(ctx context.Context, batch []ratelimit.SecurityEvent) {
	if err := s.sink.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write security events",
			"error", err,
			"count", len(batch),
		)
	}
}

var _ ratelimit.EventRecorder = (*EventService)(nil)
