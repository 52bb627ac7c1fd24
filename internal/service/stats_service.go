// Package service contains application services.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// StatsService tracks runtime statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	allowed     atomic.Int64
	rateLimited atomic.Int64
	banned      atomic.Int64
	failOpen    atomic.Int64
	exempt      atomic.Int64

	// Security events by type (mutex-protected map).
	mu          sync.Mutex
	eventCounts map[ratelimit.EventType]int64
	startedAt   time.Time
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		eventCounts: make(map[ratelimit.EventType]int64),
		startedAt:   time.Now(),
	}
}

// RecordDecision increments the counter matching d.Reason.
func (s *StatsService) RecordDecision(d ratelimit.Decision) {
	switch d.Reason {
	case ratelimit.ReasonRateLimited:
		s.rateLimited.Add(1)
	case ratelimit.ReasonBanned:
		s.banned.Add(1)
	case ratelimit.ReasonStoreUnavailable:
		s.failOpen.Add(1)
	default:
		s.allowed.Add(1)
	}
}

// RecordExempt counts a request that bypassed the limiter.
func (s *StatsService) RecordExempt() {
	s.exempt.Add(1)
}

// Record counts security events. Implements ratelimit.EventRecorder.
func (s *StatsService) Record(_ context.Context, event ratelimit.SecurityEvent) {
	s.mu.Lock()
	s.eventCounts[event.Type]++
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Allowed     int64                         `json:"allowed"`
	RateLimited int64                         `json:"rate_limited"`
	Banned      int64                         `json:"banned"`
	FailOpen    int64                         `json:"fail_open"`
	Exempt      int64                         `json:"exempt"`
	Events      map[ratelimit.EventType]int64 `json:"events"`
	Since       time.Time                     `json:"since"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	ev := make(map[ratelimit.EventType]int64, len(s.eventCounts))
	for k, v := range s.eventCounts {
		ev[k] = v
	}
	since := s.startedAt
	s.mu.Unlock()

	return Stats{
		Allowed:     s.allowed.Load(),
		RateLimited: s.rateLimited.Load(),
		Banned:      s.banned.Load(),
		FailOpen:    s.failOpen.Load(),
		Exempt:      s.exempt.Load(),
		Events:      ev,
		Since:       since,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.allowed.Store(0)
	s.rateLimited.Store(0)
	s.banned.Store(0)
	s.failOpen.Store(0)
	s.exempt.Store(0)

	s.mu.Lock()
	s.eventCounts = make(map[ratelimit.EventType]int64)
	s.startedAt = time.Now()
	s.mu.Unlock()
}

var _ ratelimit.EventRecorder = (*StatsService)(nil)
