// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

const shardCount = 32

// entry is a counter or flag with an optional deadline.
type entry struct {
	value    int64
	expireAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// CounterStore implements ratelimit.CounterStore in memory.
// Thread-safe for concurrent access. Single-process only: use it for
// development, tests and single-instance deployments.
//
// Expired entries are invisible to readers immediately and are removed by a
// background cleanup goroutine.
type CounterStore struct {
	shards          [shardCount]*shard
	now             func() time.Time
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// CounterStoreOption configures a CounterStore.
type CounterStoreOption func(*CounterStore)

// WithClock overrides the time source. Used by tests to fast-forward TTLs.
func WithClock(now func() time.Time) CounterStoreOption {
	return func(s *CounterStore) {
		s.now = now
	}
}

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(d time.Duration) CounterStoreOption {
	return func(s *CounterStore) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// NewCounterStore creates an empty store. Default cleanup interval: 1 minute.
func NewCounterStore(opts ...CounterStoreOption) *CounterStore {
	s := &CounterStore{
		now:             time.Now,
		stopChan:        make(chan struct{}),
		cleanupInterval: time.Minute,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CounterStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// get returns the live entry for key. Caller holds sh.mu.
func (sh *shard) get(key string, now time.Time) (entry, bool) {
	e, ok := sh.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(now) {
		delete(sh.entries, key)
		return entry{}, false
	}
	return e, true
}

// Count returns the counter value, 0 when absent.
func (s *CounterStore) Count(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, _ := sh.get(key, s.now())
	return e.value, nil
}

// Increment adds one to key. A positive expire sets the deadline in the same
// critical section; otherwise the existing deadline is kept.
func (s *CounterStore) Increment(ctx context.Context, key string, expire time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return s.incrementLocked(sh, key, expire), nil
}

func (s *CounterStore) incrementLocked(sh *shard, key string, expire time.Duration) int64 {
	now := s.now()
	e, _ := sh.get(key, now)
	e.value++
	if expire > 0 {
		e.expireAt = now.Add(expire)
	}
	sh.entries[key] = e
	return e.value
}

// Expire sets the deadline of an existing key. Missing keys are ignored.
func (s *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	if e, ok := sh.get(key, now); ok {
		e.expireAt = now.Add(ttl)
		sh.entries[key] = e
	}
	return nil
}

// TTL returns the remaining lifetime, or 0 when absent or persistent.
func (s *CounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return s.ttlLocked(sh, key), nil
}

func (s *CounterStore) ttlLocked(sh *shard, key string) time.Duration {
	now := s.now()
	e, ok := sh.get(key, now)
	if !ok || e.expireAt.IsZero() {
		return 0
	}
	return e.expireAt.Sub(now)
}

// SetFlag stores key with value 1 for ttl, replacing any previous entry.
func (s *CounterStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.entries[key] = entry{value: 1, expireAt: s.now().Add(ttl)}
	return nil
}

// HasFlag reports whether key is live.
func (s *CounterStore) HasFlag(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, ok := sh.get(key, s.now())
	return ok, nil
}

// Delete removes keys.
func (s *CounterStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		delete(sh.entries, key)
		sh.mu.Unlock()
	}
	return nil
}

// Ping always succeeds.
func (s *CounterStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Admit runs the full admission sequence while holding the affected shard
// locks, so concurrent admissions for one client never over-admit. Shards
// are locked in index order; admissions for unrelated clients only contend
// when they share a shard.
func (s *CounterStore) Admit(ctx context.Context, req ratelimit.AdmitRequest) (ratelimit.AdmitResult, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.AdmitResult{}, err
	}
	lockAll := s.lockShards(req.BanKey, req.SuspicionKey, req.CounterKey)
	defer lockAll()

	now := s.now()
	var res ratelimit.AdmitResult

	banShard := s.shardFor(req.BanKey)
	if _, banned := banShard.get(req.BanKey, now); banned {
		res.Banned = true
		res.BanTTL = s.ttlLocked(banShard, req.BanKey)
		return res, nil
	}

	suspShard := s.shardFor(req.SuspicionKey)
	_, res.Suspicious = suspShard.get(req.SuspicionKey, now)

	ctrShard := s.shardFor(req.CounterKey)
	current, _ := ctrShard.get(req.CounterKey, now)

	policy := ratelimit.NewPolicy(req.Config)
	res.Verdict = policy.Evaluate(current.value, res.Suspicious)

	var expire time.Duration
	if current.value == 0 {
		expire = res.Verdict.Tier.Window
	}
	res.Count = s.incrementLocked(ctrShard, req.CounterKey, expire)

	if res.Verdict.MarkSuspicious {
		suspShard.entries[req.SuspicionKey] = entry{value: 1, expireAt: now.Add(req.Config.Suspicious.Window)}
	}
	if res.Verdict.Ban {
		banShard.entries[req.BanKey] = entry{value: 1, expireAt: now.Add(req.Config.BanDuration)}
	}
	res.CounterTTL = s.ttlLocked(ctrShard, req.CounterKey)
	return res, nil
}

// lockShards locks the distinct shards of keys in index order and returns the unlock func.
func (s *CounterStore) lockShards(keys ...string) func() {
	var picked [shardCount]bool
	for _, k := range keys {
		picked[xxhash.Sum64String(k)%shardCount] = true
	}
	var locked []*shard
	for i, ok := range picked {
		if ok {
			s.shards[i].mu.Lock()
			locked = append(locked, s.shards[i])
		}
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *CounterStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup drops expired entries shard by shard.
func (s *CounterStore) cleanup() {
	now := s.now()
	cleaned, remaining := 0, 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.expired(now) {
				delete(sh.entries, key)
				cleaned++
			}
		}
		remaining += len(sh.entries)
		sh.mu.Unlock()
	}

	if cleaned > 0 {
		slog.Debug("counter store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", remaining)
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Close stops the cleanup goroutine.
func (s *CounterStore) Close() error {
	s.Stop()
	return nil
}

// Size returns the number of stored entries, including expired ones not yet swept.
func (s *CounterStore) Size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Compile-time interface verification.
var (
	_ ratelimit.CounterStore   = (*CounterStore)(nil)
	_ ratelimit.AtomicAdmitter = (*CounterStore)(nil)
)
