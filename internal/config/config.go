// Package config provides configuration types for contactguard.
//
// Configuration is file-based (contactguard.yaml) with environment overrides.
// Durations are kept as strings, the way they appear in YAML, and parsed
// by the typed accessors once validation has passed.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the top-level configuration for contactguard.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store selects and tunes the shared counter store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Redis configures the Redis connection when Store.Backend is "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// RateLimit holds the escalation thresholds.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Upstream configures the contact backend. When URL is empty the
	// built-in lead intake answers admitted requests.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Admin configures the JSON admin API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Events configures where security events are written.
	Events EventsConfig `yaml:"events" mapstructure:"events"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (debug logging, in-memory store).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful shutdown (e.g. "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// StoreConfig configures the counter store.
type StoreConfig struct {
	// Backend is "redis" (shared across instances) or "memory" (single process).
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=redis memory"`

	// Namespace prefixes every key: {namespace}:ratelimit:{id}. Defaults to "seymr".
	Namespace string `yaml:"namespace" mapstructure:"namespace" validate:"omitempty,excludesall=:"`

	// Timeout bounds each limit check. An expired check fails open.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// StrictAdmission makes read, compare and increment a single atomic step.
	StrictAdmission bool `yaml:"strict_admission" mapstructure:"strict_admission"`

	// CleanupInterval is how often the memory backend sweeps expired keys.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Username     string `yaml:"username" mapstructure:"username"`
	Password     string `yaml:"password" mapstructure:"password"`
	DB           int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	DialTimeout  string `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"omitempty,duration"`
	ReadTimeout  string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`
	PoolSize     int    `yaml:"pool_size" mapstructure:"pool_size" validate:"omitempty,min=1"`
}

// RateLimitConfig holds the two tiers and the ban settings.
type RateLimitConfig struct {
	// MaxRequests and Window form the normal tier. Defaults: 5 per "1h".
	MaxRequests int64  `yaml:"max_requests" mapstructure:"max_requests" validate:"min=1"`
	Window      string `yaml:"window" mapstructure:"window" validate:"required,duration"`

	// SuspiciousMaxRequests and SuspiciousWindow form the stricter tier.
	// Defaults: 3 per "24h".
	SuspiciousMaxRequests int64  `yaml:"suspicious_max_requests" mapstructure:"suspicious_max_requests" validate:"min=1"`
	SuspiciousWindow      string `yaml:"suspicious_window" mapstructure:"suspicious_window" validate:"required,duration"`

	// BanDuration is the ban lifetime. Default "24h".
	BanDuration string `yaml:"ban_duration" mapstructure:"ban_duration" validate:"required,duration"`

	// EscalationMargin is how far past the active threshold a client may
	// go before being banned. Default 5.
	EscalationMargin int64 `yaml:"escalation_margin" mapstructure:"escalation_margin" validate:"min=0"`

	// ExemptExpression is an optional CEL rule; matching requests skip the limiter.
	ExemptExpression string `yaml:"exempt_expression" mapstructure:"exempt_expression" validate:"omitempty,max=1024"`

	// Messages overrides the 429 texts.
	Messages MessagesConfig `yaml:"messages" mapstructure:"messages"`
}

// MessagesConfig holds the denial wording.
type MessagesConfig struct {
	RateLimited string `yaml:"rate_limited" mapstructure:"rate_limited"`
	Banned      string `yaml:"banned" mapstructure:"banned"`
}

// UpstreamConfig configures the protected route.
type UpstreamConfig struct {
	// URL is the contact backend (http or https). Empty selects the built-in intake.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	// Timeout for forwarded requests. Default "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// Path is where the protected route is mounted. Default "/api/contact".
	Path string `yaml:"path" mapstructure:"path" validate:"omitempty,startswith=/"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// Enabled mounts /admin/api. Default true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TokenHash is an Argon2id PHC hash (see `contactguard hash-key`).
	// When set, remote callers may authenticate with a bearer token.
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"omitempty,startswith=$argon2id$"`

	// RequestsPerMinute throttles remote callers per IP. Default 60.
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"omitempty,min=1"`
}

// EventsConfig configures security event output.
type EventsConfig struct {
	// Output is "stdout", "none" or "file:///absolute/path". Default "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"required,event_output"`

	// ChannelSize is the event channel buffer. Default 256.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of events written per flush. Default 50.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending events are written. Default "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// BufferSize is the number of recent events kept for the admin API. Default 500.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// WarningThreshold is the channel fill percentage that triggers a warning. Default 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Tracing exports spans for limit checks and admin operations to stdout.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	// Dev mode never touches shared rate state, even with redis.addr configured.
	c.Store.Backend = BackendMemory
	if c.Events.Output == "" {
		c.Events.Output = "stdout"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	// A configured Redis address implies the shared backend.
	if c.Store.Backend == "" && c.Redis.Addr != "" {
		c.Store.Backend = BackendRedis
	}
	if c.Store.Backend == "" && !c.DevMode {
		c.Store.Backend = BackendMemory
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = ratelimit.DefaultNamespace
	}
	if c.Store.Timeout == "" {
		c.Store.Timeout = "500ms"
	}
	if c.Store.CleanupInterval == "" {
		c.Store.CleanupInterval = "1m"
	}

	if c.Redis.DialTimeout == "" {
		c.Redis.DialTimeout = "2s"
	}
	if c.Redis.ReadTimeout == "" {
		c.Redis.ReadTimeout = "500ms"
	}
	if c.Redis.WriteTimeout == "" {
		c.Redis.WriteTimeout = "500ms"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}

	def := ratelimit.DefaultConfig()
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = def.Normal.Max
	}
	if c.RateLimit.Window == "" {
		c.RateLimit.Window = "1h"
	}
	if c.RateLimit.SuspiciousMaxRequests == 0 {
		c.RateLimit.SuspiciousMaxRequests = def.Suspicious.Max
	}
	if c.RateLimit.SuspiciousWindow == "" {
		c.RateLimit.SuspiciousWindow = "24h"
	}
	if c.RateLimit.BanDuration == "" {
		c.RateLimit.BanDuration = "24h"
	}
	// Zero is a legal margin, so only default when the key is absent.
	if !viper.IsSet("rate_limit.escalation_margin") && c.RateLimit.EscalationMargin == 0 {
		c.RateLimit.EscalationMargin = def.EscalationMargin
	}

	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}
	if c.Upstream.Path == "" {
		c.Upstream.Path = "/api/contact"
	}

	// Only apply the default when the user hasn't explicitly set it in YAML/env.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("admin.enabled") {
		c.Admin.Enabled = true
	}
	if c.Admin.RequestsPerMinute == 0 {
		c.Admin.RequestsPerMinute = 60
	}

	if c.Events.Output == "" {
		c.Events.Output = "stdout"
	}
	if c.Events.ChannelSize == 0 {
		c.Events.ChannelSize = 256
	}
	if c.Events.BatchSize == 0 {
		c.Events.BatchSize = 50
	}
	if c.Events.FlushInterval == "" {
		c.Events.FlushInterval = "1s"
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 500
	}
	if c.Events.WarningThreshold == 0 {
		c.Events.WarningThreshold = 80
	}
}

// Limits converts the rate_limit section into the domain configuration.
func (c *Config) Limits() (ratelimit.Config, error) {
	window, err := parseDuration("rate_limit.window", c.RateLimit.Window)
	if err != nil {
		return ratelimit.Config{}, err
	}
	suspWindow, err := parseDuration("rate_limit.suspicious_window", c.RateLimit.SuspiciousWindow)
	if err != nil {
		return ratelimit.Config{}, err
	}
	ban, err := parseDuration("rate_limit.ban_duration", c.RateLimit.BanDuration)
	if err != nil {
		return ratelimit.Config{}, err
	}
	cfg := ratelimit.Config{
		Normal:           ratelimit.Tier{Max: c.RateLimit.MaxRequests, Window: window},
		Suspicious:       ratelimit.Tier{Max: c.RateLimit.SuspiciousMaxRequests, Window: suspWindow},
		BanDuration:      ban,
		EscalationMargin: c.RateLimit.EscalationMargin,
	}
	if err := cfg.Validate(); err != nil {
		return ratelimit.Config{}, err
	}
	return cfg, nil
}

// Duration parses a duration string, falling back to def when s is empty
// or malformed. Validation rejects malformed values before this is reached.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}
