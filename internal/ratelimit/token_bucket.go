package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket lives in a hash {tokens, ts}; refill uses the Redis clock so
// instances with skewed clocks share one view. Returns {allowed, tokens}.
var takeScript = redis.NewScript(`
local rate, burst, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - last) / 1000 * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

var ErrBucketInvalid = errors.New("bucket_invalid")

// Limit is a refill rate in tokens per second with a maximum burst.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) validate() error {
	if l.Rate <= 0 || l.Burst <= 0 {
		return fmt.Errorf("%w: rate %.2f burst %d", ErrBucketInvalid, l.Rate, l.Burst)
	}
	return nil
}

// idleTTL keeps a bucket around for twice the time it takes to refill.
func (l Limit) idleTTL() time.Duration {
	if l.validate() != nil {
		return time.Second
	}
	return time.Duration(math.Max(1, math.Ceil(float64(l.Burst)/l.Rate*2))) * time.Second
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket shared by every instance.
type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Take removes one token from the bucket at key when one is available.
func (b *TokenBucket) Take(ctx context.Context, key string, limit Limit) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, errors.Join(ErrBucketInvalid, errors.New("redis not configured"))
	}
	if key == "" {
		return Decision{}, fmt.Errorf("%w: empty key", ErrBucketInvalid)
	}
	if err := limit.validate(); err != nil {
		return Decision{}, err
	}

	reply, err := takeScript.Run(ctx, b.client, []string{key},
		limit.Rate, limit.Burst, limit.idleTTL().Milliseconds()).Slice()
	if err != nil {
		return Decision{}, err
	}
	return decide(reply, limit)
}

func decide(reply []interface{}, limit Limit) (Decision, error) {
	if len(reply) != 2 {
		return Decision{}, fmt.Errorf("token bucket reply has %d values", len(reply))
	}
	allowed, _ := reply[0].(int64)
	raw, _ := reply[1].(string)
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket reply %q: %w", raw, err)
	}

	d := Decision{Allowed: allowed == 1, Remaining: remaining}
	if !d.Allowed {
		d.RetryAfter = time.Duration((1 - remaining) / limit.Rate * float64(time.Second))
	}
	return d, nil
}
