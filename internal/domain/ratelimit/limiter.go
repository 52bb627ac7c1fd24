package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared key-value service holding all rate state.
// Interface owned by domain per hexagonal architecture; Redis and in-memory
// adapters implement it.
//
// All TTLs are enforced by the store. Implementations must be safe for
// concurrent use and should honour ctx deadlines.
type CounterStore interface {
	// Count returns the counter value, 0 when the key is absent.
	Count(ctx context.Context, key string) (int64, error)

	// Increment atomically adds one to key and returns the new value.
	// When expire > 0 the expiry is set in the same atomic batch; otherwise
	// the existing expiry is preserved.
	Increment(ctx context.Context, key string, expire time.Duration) (int64, error)

	// Expire sets the remaining lifetime of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key, or a value <= 0 when the key
	// is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SetFlag stores a marker under key that expires after ttl.
	SetFlag(ctx context.Context, key string, ttl time.Duration) error

	// HasFlag reports whether key exists.
	HasFlag(ctx context.Context, key string) (bool, error)

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// AdmitRequest describes one atomic admission for an AtomicAdmitter.
type AdmitRequest struct {
	CounterKey   string
	SuspicionKey string
	BanKey       string
	Config       Config
}

// AdmitResult is what an atomic admission observed and did.
type AdmitResult struct {
	// Banned is true when a ban flag already existed; nothing else was touched.
	Banned bool
	// BanTTL is the remaining ban lifetime when Banned is true.
	BanTTL time.Duration
	// Suspicious is the suspicion flag value before this request.
	Suspicious bool
	// Count is the counter value after this request.
	Count int64
	// CounterTTL is the counter's remaining lifetime after this request.
	CounterTTL time.Duration
	// Verdict is the policy outcome the store applied.
	Verdict Verdict
}

// AtomicAdmitter is implemented by stores that can run the whole
// read-decide-increment sequence as one atomic operation. The limiter uses
// it only in strict admission mode.
type AtomicAdmitter interface {
	Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error)
}
