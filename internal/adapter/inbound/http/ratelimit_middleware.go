package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/seymr/contactguard/internal/ctxkey"
	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// Default denial messages.
const (
	DefaultRateLimitedMessage = "Too many requests. Please wait before trying again."
	DefaultBannedMessage      = "Your IP address has been temporarily blocked due to suspicious activity."
)

// Limiter decides requests. Implemented by service.LimiterService.
type Limiter interface {
	CheckLimit(ctx context.Context, clientID string) ratelimit.Decision
}

// Exempter reports requests that bypass the limiter entirely.
type Exempter interface {
	Exempt(r *http.Request, clientID string) bool
}

// DecisionRecorder receives every decision. Implemented by service.StatsService.
type DecisionRecorder interface {
	RecordDecision(d ratelimit.Decision)
	RecordExempt()
}

type edgeLimiter struct {
	limiter            Limiter
	exempter           Exempter
	metrics            *Metrics
	recorder           DecisionRecorder
	rateLimitedMessage string
	bannedMessage      string
	now                func() time.Time
}

// EdgeOption configures RateLimitMiddleware.
type EdgeOption func(*edgeLimiter)

// WithDenialMessages overrides the 429 message texts. Empty values keep the defaults.
func WithDenialMessages(rateLimited, banned string) EdgeOption {
	return func(e *edgeLimiter) {
		if rateLimited != "" {
			e.rateLimitedMessage = rateLimited
		}
		if banned != "" {
			e.bannedMessage = banned
		}
	}
}

// WithEdgeMetrics records decision metrics.
func WithEdgeMetrics(m *Metrics) EdgeOption {
	return func(e *edgeLimiter) {
		e.metrics = m
	}
}

// WithDecisionRecorder forwards decisions to r.
func WithDecisionRecorder(r DecisionRecorder) EdgeOption {
	return func(e *edgeLimiter) {
		e.recorder = r
	}
}

// WithExempter lets matching requests skip the limiter.
func WithExempter(x Exempter) EdgeOption {
	return func(e *edgeLimiter) {
		e.exempter = x
	}
}

// WithEdgeClock overrides the time source used for Retry-After.
func WithEdgeClock(now func() time.Time) EdgeOption {
	return func(e *edgeLimiter) {
		e.now = now
	}
}

// denialResponse is the JSON body of a 429.
type denialResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// RateLimitMiddleware enforces limiter decisions at the HTTP edge.
// RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset are set on every
// checked response; denied requests get Retry-After and a 429 JSON body and
// never reach next.
func RateLimitMiddleware(limiter Limiter, opts ...EdgeOption) func(http.Handler) http.Handler {
	e := &edgeLimiter{
		limiter:            limiter,
		rateLimitedMessage: DefaultRateLimitedMessage,
		bannedMessage:      DefaultBannedMessage,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ClientIdentifier(r)
			ctx := context.WithValue(r.Context(), ctxkey.ClientIDKey{}, clientID)
			logger := LoggerFromContext(ctx).With("client_id", clientID)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			r = r.WithContext(ctx)

			if e.exempter != nil && e.exempter.Exempt(r, clientID) {
				if e.metrics != nil {
					e.metrics.ExemptTotal.Inc()
				}
				if e.recorder != nil {
					e.recorder.RecordExempt()
				}
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			d := e.limiter.CheckLimit(ctx, clientID)
			if e.metrics != nil {
				e.metrics.CheckDuration.Observe(time.Since(start).Seconds())
				e.metrics.DecisionsTotal.WithLabelValues(string(d.Reason)).Inc()
			}
			if e.recorder != nil {
				e.recorder.RecordDecision(d)
			}

			h := w.Header()
			h.Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			h.Set("RateLimit-Remaining", strconv.FormatInt(max(d.Remaining, 0), 10))
			h.Set("RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := d.RetryAfter(e.now())
			h.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

			msg := e.rateLimitedMessage
			if d.Reason == ratelimit.ReasonBanned {
				msg = e.bannedMessage
			}
			logger.Info("request rate limited",
				"reason", d.Reason,
				"retry_after", retryAfter,
			)

			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(denialResponse{
				Success:    false,
				Error:      "Rate limit exceeded",
				Message:    msg,
				RetryAfter: retryAfter,
			})
		})
	}
}
