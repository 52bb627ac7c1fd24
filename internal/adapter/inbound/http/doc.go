// Package http is the inbound HTTP adapter of contactguard.
//
// It exposes the protected contact endpoint behind the edge rate-limit
// middleware, plus /health and /metrics.
//
// # Middleware Chain
//
// Requests to the protected path pass through, outermost first:
//
//  1. MetricsMiddleware - records duration and status
//  2. RequestIDMiddleware - extracts or generates X-Request-ID, enriches the logger
//  3. RateLimitMiddleware - derives the client identifier, asks the limiter,
//     sets RateLimit-* headers and answers 429 on denial
//  4. Handler - reverse proxy to the upstream contact backend, or the
//     built-in lead intake handler
//
// # Client Identity
//
// The client identifier is the first X-Forwarded-For entry, then X-Real-IP,
// then the host part of the peer address, then "unknown". No validation is
// applied: the deployment is expected to sit behind a trusted proxy.
//
// # Response Headers
//
//	RateLimit-Limit: <active tier max>
//	RateLimit-Remaining: <budget left, never negative>
//	RateLimit-Reset: <epoch seconds>
//	Retry-After: <seconds, on 429 only>
package http
