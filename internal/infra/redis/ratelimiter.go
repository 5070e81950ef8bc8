package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const defaultWindow = time.Hour

// Counter increment and limit check must be one atomic step so concurrent
// requests cannot slip past the budget.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.Limiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a distributed fixed-window rate limiter. Each channel
// is checked against a per-recipient counter first, then the global counter;
// both must pass. Window counters expire with the window.
type RedisRateLimiter struct {
	client *goredis.Client
	limits map[domain.Channel]ratelimit.Limits
	window time.Duration
	now    func() time.Time
	script *goredis.Script
}

func NewRedisRateLimiter(
	client *goredis.Client,
	limits map[domain.Channel]ratelimit.Limits,
	window time.Duration,
) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limits, window, time.Now)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limits map[domain.Channel]ratelimit.Limits,
	window time.Duration,
	nowFn func() time.Time,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if window <= 0 {
		window = defaultWindow
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if limits == nil {
		limits = map[domain.Channel]ratelimit.Limits{}
	}

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		window: window,
		now:    nowFn,
		script: allowScript,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, recipientID string, channel domain.Channel) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}
	if !channel.IsValid() {
		return false, fmt.Errorf("invalid channel %q", channel)
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return false, fmt.Errorf("recipient id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	limits := r.limits[channel]

	allowed, err := r.check(ctx, channel, recipientID, limits.PerRecipient)
	if err != nil || !allowed {
		return allowed, err
	}

	return r.check(ctx, channel, ratelimit.GlobalScope, limits.Global)
}

func (r *RedisRateLimiter) check(ctx context.Context, channel domain.Channel, scope string, limit int64) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	windowSecs := int64(r.window / time.Second)
	windowStart := r.now().UTC().Unix() / windowSecs * windowSecs
	key := fmt.Sprintf("ratelimit:%s:%s:%d", strings.ToLower(channel.String()), scope, windowStart)

	result, err := r.script.Run(ctx, r.client, []string{key}, limit, windowSecs).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}
