package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalLimiter)(nil)

type localEntry struct {
	limit   int
	limiter *rate.Limiter
}

// LocalLimiter is an in-process token bucket per key. It is only correct for a
// single worker process; multi-process deployments use the Redis limiter.
type LocalLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*localEntry
}

func NewLocalLimiter(interval time.Duration) *LocalLimiter {
	return newLocalLimiter(interval, time.Now)
}

func newLocalLimiter(interval time.Duration, nowFn func() time.Time) *LocalLimiter {
	if interval <= 0 {
		interval = time.Minute
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &LocalLimiter{
		interval: interval,
		now:      nowFn,
		buckets:  make(map[string]*localEntry),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, fmt.Errorf("rate limit key is required")
	}
	if limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.buckets[normalized]
	if !ok || entry.limit != limit {
		every := rate.Every(l.interval / time.Duration(limit))
		entry = &localEntry{limit: limit, limiter: rate.NewLimiter(every, limit)}
		l.buckets[normalized] = entry
	}

	return entry.limiter.AllowN(l.now(), 1), nil
}
