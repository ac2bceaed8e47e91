/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mapek

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seanchatmangpt/knhk-sub006/pkg/metrics"
)

// RedisRateLimiter is a fixed-window counter proposer limiter backed
// by Redis, so the cap is shared across every kernel instance in a
// deployment rather than per-process.
type RedisRateLimiter struct {
	client *redis.Client
	key    string
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter constructs a RedisRateLimiter admitting at most limit
// calls to Allow per window, counted under key.
func NewRedisRateLimiter(client *redis.Client, key string, limit int64, window time.Duration) (*RedisRateLimiter, error) {
	if key == "" {
		return nil, errRateLimiterMisconfigured
	}
	return &RedisRateLimiter{client: client, key: key, limit: limit, window: window}, nil
}

// Allow increments the window's counter and reports whether the caller is
// still within limit. The first increment in a window also sets its
// expiry, so a stalled window self-heals without an external sweeper.
func (r *RedisRateLimiter) Allow(ctx context.Context) (bool, error) {
	count, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, r.key, r.window).Err(); err != nil {
			return false, err
		}
	}
	allowed := count <= r.limit
	if !allowed {
		metrics.RecordProposerRateLimitRejection()
	}
	return allowed, nil
}

// InMemoryRateLimiter is the in-process fallback used when no Redis
// endpoint is configured: a single-process fixed-window counter, reset
// every window.
type InMemoryRateLimiter struct {
	limit  int64
	window time.Duration

	mu          sync.Mutex
	count       int64
	windowStart time.Time
	clock       func() time.Time
}

// NewInMemoryRateLimiter constructs an InMemoryRateLimiter admitting at
// most limit calls to Allow per window.
func NewInMemoryRateLimiter(limit int64, window time.Duration) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{limit: limit, window: window, clock: time.Now}
}

// Allow reports whether the caller is within the current window's limit,
// rolling over to a fresh window once window has elapsed.
func (r *InMemoryRateLimiter) Allow(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	if now.Sub(r.windowStart) >= r.window {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	allowed := r.count <= r.limit
	if !allowed {
		metrics.RecordProposerRateLimitRejection()
	}
	return allowed, nil
}
