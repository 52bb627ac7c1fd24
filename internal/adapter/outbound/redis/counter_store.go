// Package redis provides the Redis-backed counter store, the shared state
// used when several contactguard instances guard the same endpoint.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

// admitScript runs the whole admission sequence atomically.
//
// KEYS: ban, suspicion, counter.
// ARGV: normal max, normal window ms, suspicious max, suspicious window ms,
// ban ms, margin.
// Returns {banned, ban_ttl_ms, suspicious, count, counter_ttl_ms, admit, mark, ban}.
var admitScript = goredis.NewScript(`
	local banKey, suspKey, ctrKey = KEYS[1], KEYS[2], KEYS[3]
	local nMax, nWin = tonumber(ARGV[1]), tonumber(ARGV[2])
	local sMax, sWin = tonumber(ARGV[3]), tonumber(ARGV[4])
	local banMs, margin = tonumber(ARGV[5]), tonumber(ARGV[6])

	if redis.call('EXISTS', banKey) == 1 then
		return {1, redis.call('PTTL', banKey), 0, 0, 0, 0, 0, 0}
	end

	local suspicious = redis.call('EXISTS', suspKey)
	local max, win = nMax, nWin
	if suspicious == 1 then
		max, win = sMax, sWin
	end

	local count = tonumber(redis.call('GET', ctrKey) or '0')
	local newCount = redis.call('INCR', ctrKey)
	if newCount == 1 or redis.call('PTTL', ctrKey) == -1 then
		redis.call('PEXPIRE', ctrKey, win)
	end

	local admit, mark, ban = 0, 0, 0
	if count < max then
		admit = 1
	else
		if suspicious == 0 then
			mark = 1
			redis.call('SET', suspKey, 1, 'PX', sWin)
		end
		if newCount >= max + margin then
			ban = 1
			redis.call('SET', banKey, 1, 'PX', banMs)
		end
	end

	return {0, 0, suspicious, newCount, redis.call('PTTL', ctrKey), admit, mark, ban}
`)

// CounterStore implements ratelimit.CounterStore on Redis.
type CounterStore struct {
	client goredis.UniversalClient
}

// NewCounterStore wraps an existing client. The caller owns the client's lifecycle
// unless Close is called.
func NewCounterStore(client goredis.UniversalClient) *CounterStore {
	return &CounterStore{client: client}
}

// Options configures a Redis connection.
type Options struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// Dial creates a client for opts and wraps it. No connection is made until
// the first command.
func Dial(opts Options) *CounterStore {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})
	return NewCounterStore(client)
}

// Count returns the counter value, 0 when absent.
func (s *CounterStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, nil
}

// Increment runs INCR, and PEXPIRE when expire > 0, in one MULTI/EXEC.
func (s *CounterStore) Increment(ctx context.Context, key string, expire time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if expire > 0 {
			pipe.PExpire(ctx, key, expire)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Expire sets the key lifetime with PEXPIRE.
func (s *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis pexpire %s: %w", key, err)
	}
	return nil
}

// TTL returns PTTL. Redis reports -2 (absent) and -1 (no expiry) as negative durations.
func (s *CounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl %s: %w", key, err)
	}
	return ttl, nil
}

// SetFlag stores "1" with a PX expiry.
func (s *CounterStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// HasFlag reports EXISTS.
func (s *CounterStore) HasFlag(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes keys with DEL.
func (s *CounterStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *CounterStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Admit runs admitScript.
func (s *CounterStore) Admit(ctx context.Context, req ratelimit.AdmitRequest) (ratelimit.AdmitResult, error) {
	cfg := req.Config
	raw, err := admitScript.Run(ctx, s.client,
		[]string{req.BanKey, req.SuspicionKey, req.CounterKey},
		cfg.Normal.Max, cfg.Normal.Window.Milliseconds(),
		cfg.Suspicious.Max, cfg.Suspicious.Window.Milliseconds(),
		cfg.BanDuration.Milliseconds(), cfg.EscalationMargin,
	).Int64Slice()
	if err != nil {
		return ratelimit.AdmitResult{}, fmt.Errorf("redis admit script: %w", err)
	}
	if len(raw) != 8 {
		return ratelimit.AdmitResult{}, fmt.Errorf("redis admit script: unexpected reply length %d", len(raw))
	}

	res := ratelimit.AdmitResult{
		Banned:     raw[0] == 1,
		BanTTL:     time.Duration(raw[1]) * time.Millisecond,
		Suspicious: raw[2] == 1,
		Count:      raw[3],
		CounterTTL: time.Duration(raw[4]) * time.Millisecond,
	}
	if res.Banned {
		return res, nil
	}
	res.Verdict = ratelimit.Verdict{
		Tier:           ratelimit.NewPolicy(cfg).ActiveTier(res.Suspicious),
		Suspicious:     res.Suspicious,
		Admit:          raw[5] == 1,
		MarkSuspicious: raw[6] == 1,
		Ban:            raw[7] == 1,
	}
	return res, nil
}

// Close closes the underlying client.
func (s *CounterStore) Close() error {
	return s.client.Close()
}

// Compile-time interface verification.
var (
	_ ratelimit.CounterStore   = (*CounterStore)(nil)
	_ ratelimit.AtomicAdmitter = (*CounterStore)(nil)
)
