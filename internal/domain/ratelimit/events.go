package ratelimit

import (
	"context"
	"time"
)

// EventType identifies a security event.
type EventType string

const (
	EventSuspicious EventType = "suspicious"
	EventBanned     EventType = "banned"
	EventUnbanned   EventType = "unbanned"
	EventReset      EventType = "reset"
)

// SecurityEvent records an escalation or an administrative action.
type SecurityEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	ClientID  string    `json:"client_id"`
	// Source is "limiter" for automatic escalations and "admin" for operator actions.
	Source string `json:"source"`
	// Count is the counter value that triggered an automatic escalation.
	Count     int64  `json:"count,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// EventRecorder receives security events. Implementations must not block the
// caller; the limiter guards every call with its own recover boundary.
type EventRecorder interface {
	Record(ctx context.Context, event SecurityEvent)
}

// EventSink persists security events. Interface owned by domain; the
// event service batches into it.
type EventSink interface {
	// Append stores events.
	Append(ctx context.Context, events ...SecurityEvent) error

	// Flush forces pending events to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// EventReader exposes recently recorded events for admin queries.
type EventReader interface {
	// Recent returns up to limit events, newest first.
	Recent(limit int) []SecurityEvent
}
