package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are kept in thousandths so the script can stay in Lua integers.
const milli = 1000

// KEYS[1] bucket; ARGV rate (milli-tokens per second), burst (milli-tokens),
// ttl (ms). Returns {allowed, remaining milli-tokens}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + math.floor(elapsed * rate / 1000))

local allowed = 0
if tokens >= 1000 then
  allowed = 1
  tokens = tokens - 1000
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, tokens}
`

var (
	ErrLimiterDisabled = errors.New("rate limiter not configured")
	errBadBucketParams = errors.New("rate limiter needs a key and positive rate and burst")
)

// TokenBucket is a Redis-backed token bucket shared by every API instance.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Allow takes one token from key, refilling at rate tokens per second up to burst.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (RateLimitResult, error) {
	if t == nil || t.client == nil {
		return RateLimitResult{}, ErrLimiterDisabled
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return RateLimitResult{}, errBadBucketParams
	}

	vals, err := t.script.Run(ctx, t.client, []string{key},
		int64(rate*milli), int64(burst)*milli, bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return RateLimitResult{}, err
	}
	if len(vals) != 2 {
		return RateLimitResult{}, errors.New("unexpected rate limit script reply")
	}
	return bucketResult(vals[0] == 1, vals[1], rate, burst), nil
}

func bucketResult(allowed bool, remainingMilli int64, rate float64, burst int) RateLimitResult {
	res := RateLimitResult{
		Allowed:   allowed,
		Limit:     burst,
		Remaining: int(remainingMilli / milli),
	}
	if !allowed {
		missing := float64(milli-remainingMilli) / milli
		res.RetryAfter = time.Duration(missing / rate * float64(time.Second))
	}
	return res
}

// bucketTTL keeps an idle bucket around for two full refills.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return time.Duration(max(1, math.Ceil(2*float64(burst)/rate))) * time.Second
}
