package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seymr/contactguard/internal/ctxkey"
	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// DefaultStoreTimeout bounds every CheckLimit against a slow store.
const DefaultStoreTimeout = 500 * time.Millisecond

// LimiterService decides whether a client may proceed and applies
// escalation. It keeps no authoritative state in process: every call reads
// and writes the counter store, so any number of instances can share one store.
type LimiterService struct {
	store    ratelimit.CounterStore
	admitter ratelimit.AtomicAdmitter
	policy   ratelimit.Policy
	keys     ratelimit.Keys

	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
	strict    bool
	recorders []ratelimit.EventRecorder
	tracer    trace.Tracer
}

// LimiterOption configures LimiterService.
type LimiterOption func(*LimiterService)

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(s *LimiterService) {
		s.logger = logger
	}
}

// WithLimiterClock overrides the time source.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(s *LimiterService) {
		s.now = now
	}
}

// WithStoreTimeout sets the store deadline applied to each check and each
// administrative operation. Zero disables it.
func WithStoreTimeout(d time.Duration) LimiterOption {
	return func(s *LimiterService) {
		s.timeout = d
	}
}

// WithNamespace sets the store key namespace.
func WithNamespace(ns string) LimiterOption {
	return func(s *LimiterService) {
		s.keys = ratelimit.NewKeys(ns)
	}
}

// WithStrictAdmission makes CheckLimit atomic when the store implements
// ratelimit.AtomicAdmitter. Ignored for other stores.
func WithStrictAdmission(enabled bool) LimiterOption {
	return func(s *LimiterService) {
		s.strict = enabled
	}
}

// WithEventRecorder adds a security event recorder. May be given several times.
func WithEventRecorder(r ratelimit.EventRecorder) LimiterOption {
	return func(s *LimiterService) {
		if r != nil {
			s.recorders = append(s.recorders, r)
		}
	}
}

// WithTracer sets the tracer used for limiter spans.
func WithTracer(t trace.Tracer) LimiterOption {
	return func(s *LimiterService) {
		s.tracer = t
	}
}

// NewLimiterService creates a limiter over store with the given escalation config.
func NewLimiterService(store ratelimit.CounterStore, cfg ratelimit.Config, opts ...LimiterOption) *LimiterService {
	s := &LimiterService{
		store:   store,
		policy:  ratelimit.NewPolicy(cfg),
		keys:    ratelimit.NewKeys(""),
		logger:  slog.Default(),
		now:     time.Now,
		timeout: DefaultStoreTimeout,
		tracer:  otel.Tracer("github.com/seymr/contactguard/limiter"),
	}
	if a, ok := store.(ratelimit.AtomicAdmitter); ok {
		s.admitter = a
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the escalation parameters.
func (s *LimiterService) Config() ratelimit.Config {
	return s.policy.Config()
}

// Strict reports whether checks run as a single atomic store operation.
func (s *LimiterService) Strict() bool {
	return s.strict && s.admitter != nil
}

// storeContext bounds every store round trip of one operation by the store timeout.
func (s *LimiterService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CheckLimit decides one request from clientID. It never returns an error:
// any store failure yields a fail-open decision with ReasonStoreUnavailable.
func (s *LimiterService) CheckLimit(ctx context.Context, clientID string) ratelimit.Decision {
	if clientID == "" {
		clientID = ratelimit.UnknownClient
	}

	ctx, span := s.tracer.Start(ctx, "limiter.CheckLimit",
		trace.WithAttributes(attribute.String("client.id", clientID)))
	defer span.End()

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	now := s.now()
	var (
		d   ratelimit.Decision
		err error
	)
	if s.Strict() {
		d, err = s.checkAtomic(ctx, clientID, now)
	} else {
		d, err = s.check(ctx, clientID, now)
	}
	if err != nil {
		s.logger.Warn("rate limiter store error, failing open",
			"client_id", clientID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		d = s.failOpen(now)
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", d.Allowed),
		attribute.String("ratelimit.reason", string(d.Reason)),
	)
	return d
}

func (s *LimiterService) failOpen(now time.Time) ratelimit.Decision {
	normal := s.policy.Config().Normal
	return ratelimit.Decision{
		Allowed:   true,
		Limit:     normal.Max,
		Remaining: normal.Max,
		ResetAt:   now.Add(normal.Window),
		Reason:    ratelimit.ReasonStoreUnavailable,
	}
}

// check is the non-atomic read-then-write sequence. Concurrent requests from
// one client can over-admit by at most concurrency-1 at a window boundary.
func (s *LimiterService) check(ctx context.Context, clientID string, now time.Time) (ratelimit.Decision, error) {
	cfg := s.policy.Config()
	banKey := s.keys.Ban(clientID)
	counterKey := s.keys.Counter(clientID)

	banned, err := s.store.HasFlag(ctx, banKey)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("check ban flag: %w", err)
	}
	if banned {
		ttl, err := s.store.TTL(ctx, banKey)
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("read ban ttl: %w", err)
		}
		return s.bannedDecision(now, ttl), nil
	}

	suspicious, err := s.store.HasFlag(ctx, s.keys.Suspicion(clientID))
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("check suspicion flag: %w", err)
	}

	count, err := s.store.Count(ctx, counterKey)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("read counter: %w", err)
	}

	verdict := s.policy.Evaluate(count, suspicious)

	var expire time.Duration
	if verdict.Admit && count == 0 {
		expire = verdict.Tier.Window
	}
	newCount, err := s.store.Increment(ctx, counterKey, expire)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("increment counter: %w", err)
	}
	if newCount == 1 && expire == 0 {
		// The counter expired between the read and the increment.
		if err := s.store.Expire(ctx, counterKey, verdict.Tier.Window); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("restore counter expiry: %w", err)
		}
	}

	if verdict.MarkSuspicious {
		if err := s.store.SetFlag(ctx, s.keys.Suspicion(clientID), cfg.Suspicious.Window); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("set suspicion flag: %w", err)
		}
	}
	// The post-increment count is authoritative for the ban threshold.
	ban := !verdict.Admit && newCount >= s.policy.BanThreshold(verdict.Tier)
	if ban {
		if err := s.store.SetFlag(ctx, banKey, cfg.BanDuration); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("set ban flag: %w", err)
		}
	}

	var ttl time.Duration
	if !ban {
		if ttl, err = s.store.TTL(ctx, counterKey); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("read counter ttl: %w", err)
		}
	}

	verdict.Ban = ban
	d := s.decide(now, verdict, newCount, ttl)
	s.emitEscalations(ctx, clientID, verdict, newCount)
	return d, nil
}

// checkAtomic delegates the whole sequence to the store.
func (s *LimiterService) checkAtomic(ctx context.Context, clientID string, now time.Time) (ratelimit.Decision, error) {
	res, err := s.admitter.Admit(ctx, ratelimit.AdmitRequest{
		CounterKey:   s.keys.Counter(clientID),
		SuspicionKey: s.keys.Suspicion(clientID),
		BanKey:       s.keys.Ban(clientID),
		Config:       s.policy.Config(),
	})
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("atomic admit: %w", err)
	}
	if res.Banned {
		return s.bannedDecision(now, res.BanTTL), nil
	}
	d := s.decide(now, res.Verdict, res.Count, res.CounterTTL)
	s.emitEscalations(ctx, clientID, res.Verdict, res.Count)
	return d, nil
}

func (s *LimiterService) bannedDecision(now time.Time, ttl time.Duration) ratelimit.Decision {
	if ttl <= 0 {
		ttl = s.policy.Config().BanDuration
	}
	return ratelimit.Decision{
		Allowed:   false,
		Limit:     s.policy.Config().Normal.Max,
		Remaining: 0,
		ResetAt:   now.Add(ttl),
		Reason:    ratelimit.ReasonBanned,
	}
}

// decide converts a verdict and the post-request counter state into a Decision.
func (s *LimiterService) decide(now time.Time, v ratelimit.Verdict, count int64, counterTTL time.Duration) ratelimit.Decision {
	if v.Ban {
		return ratelimit.Decision{
			Allowed:   false,
			Limit:     v.Tier.Max,
			Remaining: 0,
			ResetAt:   now.Add(s.policy.Config().BanDuration),
			Reason:    ratelimit.ReasonBanned,
		}
	}
	if counterTTL <= 0 {
		counterTTL = v.Tier.Window
	}
	d := ratelimit.Decision{
		Limit:   v.Tier.Max,
		ResetAt: now.Add(counterTTL),
	}
	if !v.Admit {
		d.Reason = ratelimit.ReasonRateLimited
		return d
	}
	d.Allowed = true
	d.Remaining = s.policy.Remaining(v.Tier, count)
	d.Reason = ratelimit.ReasonOK
	if v.Suspicious {
		d.Reason = ratelimit.ReasonLimitedSuspicious
	}
	return d
}

func (s *LimiterService) emitEscalations(ctx context.Context, clientID string, v ratelimit.Verdict, count int64) {
	if v.MarkSuspicious {
		s.logger.Warn("client marked as suspicious", "security_event", ratelimit.EventSuspicious, "client_id", clientID, "count", count)
		s.emit(ctx, ratelimit.SecurityEvent{Type: ratelimit.EventSuspicious, ClientID: clientID, Source: "limiter", Count: count})
	}
	if v.Ban {
		s.logger.Warn("client banned", "security_event", ratelimit.EventBanned, "client_id", clientID, "count", count)
		s.emit(ctx, ratelimit.SecurityEvent{Type: ratelimit.EventBanned, ClientID: clientID, Source: "limiter", Count: count})
	}
}

// emit forwards event to every recorder. A panicking recorder is logged and
// never affects the caller.
func (s *LimiterService) emit(ctx context.Context, event ratelimit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.RequestID == "" {
		event.RequestID, _ = ctx.Value(ctxkey.RequestIDKey{}).(string)
	}
	for _, r := range s.recorders {
		func() {
			defer func() {
				if p := recover(); p != nil {
					s.logger.Error("security event recorder panicked",
						"event", event.Type,
						"client_id", event.ClientID,
						"panic", p,
					)
				}
			}()
			r.Record(ctx, event)
		}()
	}
}

// Ban sets the ban flag for the full ban duration. Idempotent.
func (s *LimiterService) Ban(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ratelimit.ErrInvalidClientID
	}
	ctx, span := s.tracer.Start(ctx, "limiter.Ban", trace.WithAttributes(attribute.String("client.id", clientID)))
	defer span.End()
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.store.SetFlag(storeCtx, s.keys.Ban(clientID), s.policy.Config().BanDuration); err != nil {
		span.RecordError(err)
		return fmt.Errorf("ban %s: %w", clientID, err)
	}
	s.logger.Warn("client banned", "security_event", ratelimit.EventBanned, "client_id", clientID, "source", "admin")
	s.emit(ctx, ratelimit.SecurityEvent{Type: ratelimit.EventBanned, ClientID: clientID, Source: "admin"})
	return nil
}

// Unban removes the ban flag. Counter and suspicion flag are untouched.
// Unbanning a client that is not banned is a no-op.
func (s *LimiterService) Unban(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ratelimit.ErrInvalidClientID
	}
	ctx, span := s.tracer.Start(ctx, "limiter.Unban", trace.WithAttributes(attribute.String("client.id", clientID)))
	defer span.End()
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.store.Delete(storeCtx, s.keys.Ban(clientID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("unban %s: %w", clientID, err)
	}
	s.logger.Info("client unbanned", "security_event", ratelimit.EventUnbanned, "client_id", clientID)
	s.emit(ctx, ratelimit.SecurityEvent{Type: ratelimit.EventUnbanned, ClientID: clientID, Source: "admin"})
	return nil
}

// Reset deletes the counter and the suspicion flag. An existing ban stays in force.
func (s *LimiterService) Reset(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ratelimit.ErrInvalidClientID
	}
	ctx, span := s.tracer.Start(ctx, "limiter.Reset", trace.WithAttributes(attribute.String("client.id", clientID)))
	defer span.End()
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.store.Delete(storeCtx, s.keys.Counter(clientID), s.keys.Suspicion(clientID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset %s: %w", clientID, err)
	}
	s.logger.Info("client reset", "security_event", ratelimit.EventReset, "client_id", clientID)
	s.emit(ctx, ratelimit.SecurityEvent{Type: ratelimit.EventReset, ClientID: clientID, Source: "admin"})
	return nil
}

// Inspect reads a client's state without modifying it.
func (s *LimiterService) Inspect(ctx context.Context, clientID string) (ratelimit.Snapshot, error) {
	if clientID == "" {
		return ratelimit.Snapshot{}, ratelimit.ErrInvalidClientID
	}
	snap := ratelimit.Snapshot{ClientID: clientID}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var err error
	if snap.RequestCount, err = s.store.Count(ctx, s.keys.Counter(clientID)); err != nil {
		return snap, fmt.Errorf("inspect %s: %w", clientID, err)
	}
	if snap.Banned, err = s.store.HasFlag(ctx, s.keys.Ban(clientID)); err != nil {
		return snap, fmt.Errorf("inspect %s: %w", clientID, err)
	}
	if snap.Suspicious, err = s.store.HasFlag(ctx, s.keys.Suspicion(clientID)); err != nil {
		return snap, fmt.Errorf("inspect %s: %w", clientID, err)
	}
	ttl, err := s.store.TTL(ctx, s.keys.Counter(clientID))
	if err != nil {
		return snap, fmt.Errorf("inspect %s: %w", clientID, err)
	}
	if ttl > 0 {
		snap.ResetIn = ttl
	}
	if snap.Banned {
		banTTL, err := s.store.TTL(ctx, s.keys.Ban(clientID))
		if err != nil {
			return snap, fmt.Errorf("inspect %s: %w", clientID, err)
		}
		if banTTL > 0 {
			snap.BanResetIn = banTTL
		}
	}
	snap.State = ratelimit.StateOf(snap.Suspicious, snap.Banned)
	return snap, nil
}

// Ping checks the counter store.
func (s *LimiterService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
