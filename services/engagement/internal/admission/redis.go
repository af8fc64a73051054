package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// The bucket state lives in one hash per key. The caller passes the clock
// so every instance refills against the same time source it was tested with.
var tokenBucketScript = redis.NewScript(`
local rate  = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now   = tonumber(ARGV[3])
local cost  = tonumber(ARGV[4])
local ttl   = tonumber(ARGV[5])

local state  = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = state[1] and tonumber(state[1])
local ts     = state[2] and tonumber(state[2])
if not tokens or not ts then
  tokens = burst
  ts = now
end

local elapsed = math.max(0, now - ts) / 1000
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], ttl)
return allowed
`)

// RedisLimiter is the shared token bucket for multi-instance deployments.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	rate   float64
	burst  int
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, rate float64, burst int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "engagement:rl:",
		rate:   rate,
		burst:  burst,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, cost int) (bool, error) {
	// Keep the state one second past a full refill; after that a fresh
	// bucket is indistinguishable from the stored one.
	ttl := int64(math.Ceil(float64(l.burst)/l.rate*1000)) + 1000
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		l.rate, l.burst, l.now().UnixMilli(), cost, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}

// RedisDeduper shares the duplicate window across instances. A claimed but
// unfinished fingerprint holds an empty value.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

func NewRedisDeduper(client redis.Cmdable, window time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "engagement:dedup:", window: window}
}

func (d *RedisDeduper) key(fp string) string { return d.prefix + fp }

func (d *RedisDeduper) Claim(ctx context.Context, fp string) (ClaimResult, error) {
	ok, err := d.client.SetNX(ctx, d.key(fp), "", d.window).Result()
	if err != nil {
		return ClaimResult{}, fmt.Errorf("dedup claim: %w", err)
	}
	if ok {
		return ClaimResult{}, nil
	}
	prev, err := d.client.Get(ctx, d.key(fp)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; still within a window a moment ago.
		return ClaimResult{Duplicate: true}, nil
	case err != nil:
		return ClaimResult{}, fmt.Errorf("dedup lookup: %w", err)
	}
	if len(prev) == 0 {
		prev = nil
	}
	return ClaimResult{Duplicate: true, Previous: prev}, nil
}

func (d *RedisDeduper) Record(ctx context.Context, fp string, outcome []byte) error {
	err := d.client.SetArgs(ctx, d.key(fp), outcome, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dedup record: %w", err)
	}
	return nil
}

func (d *RedisDeduper) Release(ctx context.Context, fp string) error {
	if err := d.client.Del(ctx, d.key(fp)).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}
