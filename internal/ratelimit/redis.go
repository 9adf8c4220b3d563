package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter shares fixed-window counters across replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	bucket, left := window(key, rule, r.now())
	if r.prefix != "" {
		bucket = r.prefix + ":" + bucket
	}
	ttl := left.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	count, err := incrScript.Run(ctx, r.client, []string{bucket}, ttl).Int64()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit: %w", err)
	}
	return result(count, rule, left), nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
