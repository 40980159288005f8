package analyst

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailmind/internal/domain"
)

// ErrRateBudgetExhausted is returned when a caller has parked for the
// cumulative cap without obtaining a token.
var ErrRateBudgetExhausted = errors.New("rate limit wait budget exhausted")

// maxCumulativeWait caps how long one LLM call may park on the limiter.
const maxCumulativeWait = 5 * time.Minute

// Limiter grants LLM call tokens per analyst kind. Acquire parks the caller
// until a token is available; it never busy-waits.
type Limiter interface {
	Acquire(ctx context.Context, kind domain.AnalystKind) error
}

// Token-bucket state lives in a Redis hash so concurrent processes share one
// budget. The check-refill-take sequence must be atomic, hence Lua.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
    tokens = burst
    ts = now
end

tokens = math.min(burst, tokens + (now - ts) * rate / 60000)

if tokens >= 1 then
    redis.call("HMSET", key, "tokens", tokens - 1, "ts", now)
    redis.call("EXPIRE", key, 300)
    return {1, 0}
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, 300)
return {0, math.ceil((1 - tokens) * 60000 / rate)}
`

// RedisLimiter is a shared token bucket per analyst kind.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	rate   int // tokens per minute
	burst  int
}

// NewRedisLimiter builds a limiter over an existing client.
func NewRedisLimiter(client *redis.Client, ratePerMinute, burst int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   ratePerMinute,
		burst:  burst,
	}
}

// Acquire takes one token for the kind, parking until one refills. The
// cumulative wait is capped; exhaustion surfaces as llm_rate_limited.
func (l *RedisLimiter) Acquire(ctx context.Context, kind domain.AnalystKind) error {
	deadline := time.Now().Add(maxCumulativeWait)
	key := fmt.Sprintf("mailmind:ratelimit:analyst:%s", kind)

	for {
		res, err := l.script.Run(ctx, l.client, []string{key},
			l.rate, l.burst, time.Now().UnixMilli()).Slice()
		if err != nil {
			return fmt.Errorf("rate limit script: %w", err)
		}
		if res[0].(int64) == 1 {
			return nil
		}

		wait := time.Duration(res[1].(int64)) * time.Millisecond
		if time.Now().Add(wait).After(deadline) {
			return domain.Errf(domain.ErrKindLLMRateLimited, "%s analyst: %w", kind, ErrRateBudgetExhausted)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// LocalLimiter is the in-process fallback when Redis is not configured.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[domain.AnalystKind]*localBucket
	rate    int
	burst   int
}

type localBucket struct {
	tokens float64
	last   time.Time
}

// NewLocalLimiter builds a per-process token bucket.
func NewLocalLimiter(ratePerMinute, burst int) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[domain.AnalystKind]*localBucket),
		rate:    ratePerMinute,
		burst:   burst,
	}
}

// Acquire takes one token, parking until one refills.
func (l *LocalLimiter) Acquire(ctx context.Context, kind domain.AnalystKind) error {
	deadline := time.Now().Add(maxCumulativeWait)

	for {
		wait := l.tryTake(kind)
		if wait == 0 {
			return nil
		}
		if time.Now().Add(wait).After(deadline) {
			return domain.Errf(domain.ErrKindLLMRateLimited, "%s analyst: %w", kind, ErrRateBudgetExhausted)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *LocalLimiter) tryTake(kind domain.AnalystKind) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b := l.buckets[kind]
	if b == nil {
		b = &localBucket{tokens: float64(l.burst), last: now}
		l.buckets[kind] = b
	}

	b.tokens += now.Sub(b.last).Minutes() * float64(l.rate)
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	deficit := 1 - b.tokens
	return time.Duration(deficit / float64(l.rate) * float64(time.Minute))
}
