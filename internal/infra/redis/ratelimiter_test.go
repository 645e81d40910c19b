package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_040, 0)
	limiter, err := newRedisRateLimiter(rdb, time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background(), "company-1", 2)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "company-1", 2)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected by rate limit")
	}

	now = now.Add(time.Minute)
	allowed, err = limiter.Allow(context.Background(), "company-1", 2)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new minute window should allow call")
	}
}

func TestRedisRateLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newRedisRateLimiter(rdb, time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "company-1", 1)
	if err != nil {
		t.Fatalf("Allow(company-1) error = %v", err)
	}
	if !allowed {
		t.Fatal("company-1 should be allowed on first request")
	}

	allowed, err = limiter.Allow(context.Background(), "company-2", 1)
	if err != nil {
		t.Fatalf("Allow(company-2) error = %v", err)
	}
	if !allowed {
		t.Fatal("company-2 should be allowed on first request")
	}

	allowed, err = limiter.Allow(context.Background(), "COMPANY-1", 1)
	if err != nil {
		t.Fatalf("Allow(company-1) error = %v", err)
	}
	if allowed {
		t.Fatal("company-1 second request should be rejected")
	}
}

func TestRedisRateLimiterUnlimited(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	limiter, err := NewRedisRateLimiter(rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(context.Background(), "company-1", 0)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatal("limit 0 should never reject")
		}
	}

	keys := rdb.Keys(context.Background(), "ratelimit:*").Val()
	if len(keys) != 0 {
		t.Fatalf("unlimited calls should not touch redis, got keys %v", keys)
	}
}

func TestNewRedisRateLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
