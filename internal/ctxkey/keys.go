// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id/client_id fields.
type LoggerKey struct{}

// RequestIDKey is the context key type for the request ID string.
type RequestIDKey struct{}

// ClientIDKey is the context key type for the client identifier derived by the edge middleware.
type ClientIDKey struct{}
