package ratelimit

import "context"

// RateLimiter admits sends per key within a fixed short interval.
// A limit <= 0 disables limiting for that call.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}
