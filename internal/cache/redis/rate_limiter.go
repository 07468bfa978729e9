package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mintforge/dropmarket/internal/domain"
)

// fixedWindowLua atomically counts a request in the current window and sets
// the window expiry on first use. Returns the count after increment.
const fixedWindowLua = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RateLimiter implements domain.RateLimiter with a fixed window counter.
// Used to cap offer proposals per buyer.
type RateLimiter struct {
	rdb    *redis.Client
	window *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		window: redis.NewScript(fixedWindowLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow reports whether a request for the given key fits under the limit for
// the current window. Allowed requests are counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := rl.window.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return count <= int64(limit), nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
