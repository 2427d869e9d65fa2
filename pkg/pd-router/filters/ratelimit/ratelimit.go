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

// Package ratelimit guards the ingress path with token buckets: a local
// per-process limiter, or a Redis-backed one shared by all router replicas.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the admission check the request path calls; implementations
// must be safe for concurrent use.
type Limiter interface {
	// AllowN reports whether n tokens may be consumed at time now.
	AllowN(now time.Time, n int) bool
}

// LocalRateLimiter is a per-process token bucket, one bucket per model.
type LocalRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter

	requestsPerSec float64
	burst          int
}

func NewLocalRateLimiter(requestsPerSec float64, burst int) *LocalRateLimiter {
	if burst <= 0 {
		burst = int(requestsPerSec)
	}
	return &LocalRateLimiter{
		limiters:       make(map[string]*rate.Limiter),
		requestsPerSec: requestsPerSec,
		burst:          burst,
	}
}

// Allow consumes one token from the model's bucket.
func (l *LocalRateLimiter) Allow(model string) bool {
	return l.limiterFor(model).Allow()
}

func (l *LocalRateLimiter) limiterFor(model string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[model]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok = l.limiters[model]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.requestsPerSec), l.burst)
	l.limiters[model] = limiter
	return limiter
}
