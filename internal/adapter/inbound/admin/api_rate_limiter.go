package admin

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// apiRateLimitEntry holds one caller's token bucket.
type apiRateLimitEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// apiRateLimiter throttles admin API callers per IP with a token bucket
// refilling maxRequests per window.
type apiRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*apiRateLimitEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
}

// newAPIRateLimiter creates a rate limiter with the given limits.
func newAPIRateLimiter(maxRequests int, window time.Duration) *apiRateLimiter {
	return &apiRateLimiter{
		entries: make(map[string]*apiRateLimitEntry),
		limit:   rate.Every(window / time.Duration(maxRequests)),
		burst:   maxRequests,
		idleTTL: 2 * window,
	}
}

// allow checks if the given IP may make another request.
// Returns (allowed, secondsUntilNextToken).
func (rl *apiRateLimiter) allow(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Lazy cleanup of idle callers.
	for k, e := range rl.entries {
		if now.Sub(e.lastSeen) > rl.idleTTL {
			delete(rl.entries, k)
		}
	}

	entry, ok := rl.entries[ip]
	if !ok {
		entry = &apiRateLimitEntry{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = now

	res := entry.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, max(1, int(math.Ceil(delay.Seconds())))
	}
	return true, 0
}

// apiRateLimitMiddleware wraps an http.Handler with per-IP rate limiting.
// Requests from localhost are exempt (consistent with auth bypass for localhost).
func apiRateLimitMiddleware(maxRequests int, window time.Duration, next http.Handler) http.Handler {
	limiter := newAPIRateLimiter(maxRequests, window)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}

		clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		}

		allowed, retryAfter := limiter.allow(clientIP)
		if !allowed {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
