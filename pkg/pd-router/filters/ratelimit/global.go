/*
Copyright The InferFlow Authors.

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

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
)

// GlobalRateLimiter implements Limiter on a Redis token bucket, so every
// router replica draws from the same budget. All bucket state transitions
// run inside a Lua script and are therefore atomic; Redis server time is
// the clock, keeping replicas consistent with each other.
type GlobalRateLimiter struct {
	client    *redis.Client
	keyPrefix string
	modelName string

	limitPerSec float64
	burst       int
}

var _ Limiter = &GlobalRateLimiter{}

// tokenBucketScript refills the bucket from elapsed Redis time, then either
// consumes the requested tokens (returns 1) or rejects (returns 0). The
// rejected branch still persists the refill so timing stays synchronized.
const tokenBucketScript = `
	local key = KEYS[1]
	local requested_tokens = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_rate = tonumber(ARGV[3])
	local expire_seconds = tonumber(ARGV[4])

	local time_result = redis.call('time')
	local current_time = tonumber(time_result[1]) + tonumber(time_result[2]) / 1000000

	local current_tokens = tonumber(redis.call('hget', key, 'tokens')) or capacity
	local last_update = tonumber(redis.call('hget', key, 'last_update')) or current_time

	local time_passed = math.max(0, current_time - last_update)
	current_tokens = math.min(capacity, current_tokens + time_passed * refill_rate)

	local allowed = 0
	if current_tokens >= requested_tokens then
		current_tokens = current_tokens - requested_tokens
		allowed = 1
	end

	redis.call('hset', key, 'tokens', current_tokens, 'last_update', current_time)
	redis.call('expire', key, expire_seconds)
	return allowed
`

func NewGlobalRateLimiter(client *redis.Client, keyPrefix, modelName string, limitPerSec float64, burst int) *GlobalRateLimiter {
	if burst <= 0 {
		burst = int(limitPerSec)
	}
	return &GlobalRateLimiter{
		client:      client,
		keyPrefix:   keyPrefix,
		modelName:   modelName,
		limitPerSec: limitPerSec,
		burst:       burst,
	}
}

// AllowN implements Limiter. Redis errors count as a rejection.
func (g *GlobalRateLimiter) AllowN(now time.Time, n int) bool {
	key := g.key()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := g.client.Eval(ctx, tokenBucketScript, []string{key},
		n, g.burst, g.limitPerSec, g.expireSeconds())
	if result.Err() != nil {
		klog.Errorf("failed to execute token bucket lua script: %v", result.Err())
		return false
	}

	allowed, ok := result.Val().(int64)
	if !ok {
		klog.Errorf("unexpected result type from lua script: %T", result.Val())
		return false
	}
	return allowed == 1
}

func (g *GlobalRateLimiter) key() string {
	return fmt.Sprintf("%s:%s", g.keyPrefix, g.modelName)
}

// expireSeconds bounds how long an idle bucket lives in Redis: three full
// refill cycles, at least ten minutes.
func (g *GlobalRateLimiter) expireSeconds() int {
	refillSecs := float64(g.burst) / g.limitPerSec
	expire := int(refillSecs * 3)
	if expire < 600 {
		expire = 600
	}
	return expire
}
