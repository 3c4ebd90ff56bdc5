package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agegate/internal/ratelimit/models"
)

const defaultRedisPrefix = "agegate:rl:"

// incrementScript bumps the counter and starts the expiry on the first hit
// of a window. Returns {count, remaining_ttl_ms}.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  redis.call("PEXPIRE", key, window_ms)
  ttl = window_ms
end

return {current, ttl}
`)

// RedisWindowStore shares fixed windows between replicas. The key's TTL is
// the window, so Redis expiry replaces the in-memory purge.
type RedisWindowStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWindowStore(client redis.UniversalClient, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) Increment(ctx context.Context, key string, now time.Time, size time.Duration) (models.Window, error) {
	windowMS := size.Milliseconds()
	if windowMS <= 0 {
		return models.Window{}, errors.New("invalid rate limit window")
	}

	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, windowMS).Result()
	if err != nil {
		return models.Window{}, fmt.Errorf("run rate limit script: %w", err)
	}

	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return models.Window{}, errors.New("unexpected redis response")
	}
	count, ok := vals[0].(int64)
	if !ok {
		return models.Window{}, errors.New("unexpected redis response")
	}
	ttlMS, ok := vals[1].(int64)
	if !ok {
		return models.Window{}, errors.New("unexpected redis response")
	}

	elapsed := size - time.Duration(ttlMS)*time.Millisecond
	if elapsed < 0 {
		elapsed = 0
	}
	return models.Window{Count: int(count), Start: now.Add(-elapsed)}, nil
}

func (s *RedisWindowStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
