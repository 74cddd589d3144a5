// Package ratelimit meters campaign dispatches against a per-minute budget.
// The counter lives in Redis so the budget is shared across worker replicas
// and survives process restarts within the window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Limiter grants or denies one dispatch slot inside the current rate window.
type Limiter interface {
	// Allow reserves one dispatch for the campaign if fewer than perMinute
	// dispatches have been reserved in the current minute window.
	Allow(ctx context.Context, campaignID uuid.UUID, perMinute int) (bool, error)
}

// RedisLimiter implements Limiter with an atomic Redis counter per campaign
// and minute window.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

var allowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

// Allow reserves a slot in the current minute window.
func (l *RedisLimiter) Allow(ctx context.Context, campaignID uuid.UUID, perMinute int) (bool, error) {
	if perMinute <= 0 {
		return true, nil
	}

	window := time.Now().UTC().Truncate(time.Minute)
	key := fmt.Sprintf("voiceagent:campaign:%s:rate:%d", campaignID.String(), window.Unix())

	// Key expiry covers the window plus slack for clock skew between callers.
	ttl := (2 * time.Minute).Milliseconds()
	res, err := allowScript.Run(ctx, l.client, []string{key}, perMinute, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit: allow: %w", err)
	}
	return res == 1, nil
}

// MemoryLimiter is a process-local Limiter for tests and single-node runs.
type MemoryLimiter struct {
	now func() time.Time

	mu     sync.Mutex
	counts map[uuid.UUID]map[int64]int
}

// NewMemoryLimiter constructs an in-memory limiter. A nil clock uses
// time.Now.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{now: now, counts: make(map[uuid.UUID]map[int64]int)}
}

// Allow reserves a slot in the current minute window.
func (l *MemoryLimiter) Allow(_ context.Context, campaignID uuid.UUID, perMinute int) (bool, error) {
	if perMinute <= 0 {
		return true, nil
	}

	window := l.now().UTC().Truncate(time.Minute).Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	windows := l.counts[campaignID]
	if windows == nil {
		windows = make(map[int64]int)
		l.counts[campaignID] = windows
	}
	if windows[window] >= perMinute {
		return false, nil
	}
	windows[window]++

	// Drop stale windows so the map does not grow unbounded.
	for w := range windows {
		if w != window {
			delete(windows, w)
		}
	}
	return true, nil
}
