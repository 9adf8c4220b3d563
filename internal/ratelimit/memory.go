package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 10000

// MemoryLimiter keeps fixed-window counters in a bounded expiring LRU. It is
// per-process; use the redis backend when running several replicas.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters *expirable.LRU[string, int64]
	now      func() time.Time
}

// NewMemoryLimiter evicts counters after ttl, which must cover the longest rule window.
func NewMemoryLimiter(size int, ttl time.Duration) *MemoryLimiter {
	if size <= 0 {
		size = defaultMemorySize
	}
	return &MemoryLimiter{
		counters: expirable.NewLRU[string, int64](size, nil, ttl),
		now:      time.Now,
	}
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	bucket, left := window(key, rule, m.now())
	m.mu.Lock()
	count, _ := m.counters.Get(bucket)
	count++
	m.counters.Add(bucket, count)
	m.mu.Unlock()
	return result(count, rule, left), nil
}
