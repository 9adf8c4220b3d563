package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xxxsen/mshop/internal/config"
)

// Rule allows Limit hits per fixed Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Result, error)
}

func New(cfg config.RateLimitConfig) (Limiter, error) {
	if cfg.Disabled {
		return Noop{}, nil
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryLimiter(defaultMemorySize, time.Hour), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisLimiter(client, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}
}

// Noop allows everything.
type Noop struct{}

func (Noop) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	return Result{Allowed: true, Remaining: rule.Limit}, nil
}

// window returns the bucket key for now and the time left until the bucket closes.
func window(key string, rule Rule, now time.Time) (string, time.Duration) {
	size := rule.Window.Milliseconds()
	if size <= 0 {
		size = 1
	}
	ms := now.UnixMilli()
	start := ms - ms%size
	left := time.Duration(start+size-ms) * time.Millisecond
	return key + ":" + strconv.FormatInt(start, 10), left
}

func result(count int64, rule Rule, left time.Duration) Result {
	if count > int64(rule.Limit) {
		return Result{Allowed: false, RetryAfter: left}
	}
	return Result{Allowed: true, Remaining: rule.Limit - int(count)}
}
