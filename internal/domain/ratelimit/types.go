// Package ratelimit provides the domain types of the abuse mitigation engine:
// tiers, escalation policy, decisions and the counter store port.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for rate limit operations.
var (
	// ErrStoreUnavailable marks a counter store failure. The limiter converts it
	// into a fail-open decision on the request path.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInvalidClientID is returned by administrative operations for an empty identifier.
	ErrInvalidClientID = errors.New("client identifier must not be empty")
)

// UnknownClient is the identifier used when no client address can be derived.
const UnknownClient = "unknown"

// DefaultNamespace is the key prefix for all engine keys.
const DefaultNamespace = "seymr"

// Tier is a request budget: at most Max requests per Window.
type Tier struct {
	Max    int64
	Window time.Duration
}

// Config holds the escalation parameters.
type Config struct {
	// Normal is the tier applied to clients without a suspicion flag.
	Normal Tier

	// Suspicious is the stricter tier applied while a suspicion flag exists.
	// Its Window is also the lifetime of the suspicion flag.
	Suspicious Tier

	// BanDuration is the lifetime of a ban flag.
	BanDuration time.Duration

	// EscalationMargin is the number of requests beyond the active threshold
	// after which a client is banned.
	EscalationMargin int64
}

// DefaultConfig returns the production defaults: 5/1h normal, 3/24h suspicious,
// 24h bans and a margin of 5.
func DefaultConfig() Config {
	return Config{
		Normal:           Tier{Max: 5, Window: time.Hour},
		Suspicious:       Tier{Max: 3, Window: 24 * time.Hour},
		BanDuration:      24 * time.Hour,
		EscalationMargin: 5,
	}
}

// Validate reports a configuration that cannot produce sane decisions.
func (c Config) Validate() error {
	switch {
	case c.Normal.Max <= 0 || c.Suspicious.Max <= 0:
		return fmt.Errorf("tier max must be positive (normal=%d, suspicious=%d)", c.Normal.Max, c.Suspicious.Max)
	case c.Normal.Window <= 0 || c.Suspicious.Window <= 0:
		return fmt.Errorf("tier window must be positive (normal=%s, suspicious=%s)", c.Normal.Window, c.Suspicious.Window)
	case c.BanDuration <= 0:
		return fmt.Errorf("ban duration must be positive, got %s", c.BanDuration)
	case c.EscalationMargin < 0:
		return fmt.Errorf("escalation margin must not be negative, got %d", c.EscalationMargin)
	}
	return nil
}

// Reason explains a Decision.
type Reason string

const (
	// ReasonOK is an admitted request on the normal tier.
	ReasonOK Reason = "ok"
	// ReasonLimitedSuspicious is an admitted request on the suspicious tier.
	ReasonLimitedSuspicious Reason = "limited_suspicious"
	// ReasonRateLimited is a request over the active threshold.
	ReasonRateLimited Reason = "rate_limited"
	// ReasonBanned is a request from a banned client, or the request that caused the ban.
	ReasonBanned Reason = "banned"
	// ReasonStoreUnavailable is a fail-open admission after a store error.
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Decision is the outcome of a single limit check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	Reason    Reason
}

// RetryAfter returns the whole seconds until ResetAt, rounded up and never negative.
func (d Decision) RetryAfter(now time.Time) int64 {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	secs := int64(wait / time.Second)
	if wait%time.Second != 0 {
		secs++
	}
	return secs
}

// State is the escalation state of a client.
type State string

const (
	StateNormal     State = "NORMAL"
	StateSuspicious State = "SUSPICIOUS"
	StateBanned     State = "BANNED"
)

// Snapshot is a read-only view of a client's stored state.
type Snapshot struct {
	ClientID     string        `json:"client_id" yaml:"client_id"`
	State        State         `json:"state" yaml:"state"`
	RequestCount int64         `json:"request_count" yaml:"request_count"`
	Suspicious   bool          `json:"suspicious" yaml:"suspicious"`
	Banned       bool          `json:"banned" yaml:"banned"`
	ResetIn      time.Duration `json:"reset_in,omitempty" yaml:"reset_in,omitempty"`
	BanResetIn   time.Duration `json:"ban_reset_in,omitempty" yaml:"ban_reset_in,omitempty"`
}

// Keys builds store keys under a namespace.
type Keys struct {
	Namespace string
}

// NewKeys returns Keys for ns, falling back to DefaultNamespace.
func NewKeys(ns string) Keys {
	if ns == "" {
		ns = DefaultNamespace
	}
	return Keys{Namespace: ns}
}

// Counter returns the request counter key, e.g. "seymr:ratelimit:1.2.3.4".
func (k Keys) Counter(clientID string) string {
	return fmt.Sprintf("%s:ratelimit:%s", k.Namespace, clientID)
}

// Suspicion returns the suspicion flag key.
func (k Keys) Suspicion(clientID string) string {
	return fmt.Sprintf("%s:suspicious:%s", k.Namespace, clientID)
}

// Ban returns the ban flag key.
func (k Keys) Ban(clientID string) string {
	return fmt.Sprintf("%s:ban:%s", k.Namespace, clientID)
}
