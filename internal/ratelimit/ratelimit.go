// Package ratelimit implements the fleet-wide outbound rate limiter that the
// Engine puts in front of generator calls (SPEC_FULL.md §11's domain-stack
// entry for redis/go-redis/v9): a Redis-backed fixed-window counter shared across every
// Engine replica, since the per-process limiting the teacher's spawner.go
// does (a local semaphore on concurrent agent runs) doesn't hold once the
// Engine runs as more than one process.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces a fixed-window request budget per key (e.g. "generator",
// "vcs:github", "verifier") shared across every Engine replica.
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
}

func New(rdb *redis.Client, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, window: window}
}

// incrementScript atomically bumps the window counter and sets its
// expiration only on the first increment of the window, so concurrent
// callers across replicas never race on the TTL.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Allow reports whether one more call under key is permitted within the
// current window, given a limit of max calls per window.
func (l *Limiter) Allow(ctx context.Context, key string, max int) (bool, error) {
	redisKey := "ratelimit:" + key
	count, err := incrementScript.Run(ctx, l.rdb, []string{redisKey}, l.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: increment: %w", err)
	}
	return count <= max, nil
}

// Wait blocks, polling at a fixed interval, until Allow(key, max) succeeds or
// ctx is cancelled. The Engine's generator wrapper calls this ahead of each
// outbound request rather than threading backoff.Retry's own schedule
// into rate-limit waits, since a rate-limit wait isn't a retry of a failed
// call — it's a wait for permission to make the call at all.
func (l *Limiter) Wait(ctx context.Context, key string, max int, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.Allow(ctx, key, max)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
