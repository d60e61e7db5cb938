package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bondledger/internal/ratelimit/models"
)

// slidingWindowLua keeps one sorted set per key scored by admission time in
// milliseconds. It returns {allowed, count, resetAtMillis}.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
    for i = 1, cost do
        redis.call('ZADD', key, now, member .. ':' .. i)
    end
    count = count + cost
    allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
    reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`

// Redis shares sliding windows across instances.
type Redis struct {
	rdb    redis.UniversalClient
	script *redis.Script
	now    func() time.Time
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{
		rdb:    rdb,
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

func (s *Redis) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	now := s.now()
	res, err := s.script.Run(ctx, s.rdb, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, cost, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	resetAt := time.UnixMilli(res[2])
	result := &models.Result{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: max(limit-int(res[1]), 0),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfter = models.RetryAfterSeconds(now, resetAt)
	}
	return result, nil
}

func (s *Redis) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
