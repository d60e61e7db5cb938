package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock only if it still carries our token, so an
// expired holder never releases a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	defaultRedisTTL   = 30 * time.Second
	defaultRetryDelay = 20 * time.Millisecond
)

// Redis serializes writers across instances with SETNX locks.
type Redis struct {
	rdb        redis.UniversalClient
	unlock     *redis.Script
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

type RedisOption func(*Redis)

func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:        rdb,
		unlock:     redis.NewScript(unlockLua),
		prefix:     "bondledger:lock:",
		ttl:        defaultRedisTTL,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Acquire(ctx context.Context, keys []string) (func(), error) {
	token := uuid.NewString()
	keys = Normalize(keys)
	acquired := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := r.acquire(ctx, r.prefix+key, token); err != nil {
			r.releaseAll(acquired, token)
			return nil, err
		}
		acquired = append(acquired, r.prefix+key)
	}
	var once sync.Once
	return func() { once.Do(func() { r.releaseAll(acquired, token) }) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.retryDelay)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return timeoutError(ctx, key)
			}
			return fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return timeoutError(ctx, key)
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaseAll(keys []string, token string) {
	// The caller's ctx may already be done; release on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		_ = r.unlock.Run(ctx, r.rdb, []string{keys[i]}, token).Err()
	}
}
