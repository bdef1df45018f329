package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// slidingWindow trims the client's sorted set to the window, admits when
// under the limit and returns {allowed, count, reset_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if limit <= 0 or count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisRateLimiter shares the sliding window across control-plane
// instances. Redis errors fail open.
type RedisRateLimiter struct {
	client      *redis.Client
	logger      *slog.Logger
	prefix      string
	timeout     time.Duration
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewRedisRateLimiter connects to addr and verifies the connection.
func NewRedisRateLimiter(addr, password string, db, maxRequests int, window time.Duration, logger *slog.Logger) (*RedisRateLimiter, error) {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisRateLimiter{
		client:      client,
		logger:      logger.With("component", "ratelimit"),
		prefix:      "agentbox:ratelimit:",
		timeout:     250 * time.Millisecond,
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}, nil
}

// Allow checks and, on admission, records a request for client.
func (rl *RedisRateLimiter) Allow(ctx context.Context, client string) Decision {
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	now := rl.now()
	res, err := slidingWindow.Run(ctx, rl.client, []string{rl.prefix + client},
		now.UnixMilli(), rl.window.Milliseconds(), rl.maxRequests, uuid.NewString(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		rl.logger.Error("Redis rate limiter error", "client", client, "error", err)
		return Decision{Allowed: true, Limit: rl.maxRequests, Remaining: rl.maxRequests, ResetAt: now.Add(rl.window)}
	}

	return Decision{
		Allowed:   res[0] == 1,
		Limit:     rl.maxRequests,
		Remaining: max(rl.maxRequests-int(res[1]), 0),
		ResetAt:   time.UnixMilli(res[2]),
	}
}

// Close closes the Redis client.
func (rl *RedisRateLimiter) Close() error {
	if rl.client == nil {
		return nil
	}
	return rl.client.Close()
}
