// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds the per-client-IP request budgets.
//
// # Fields
//
//   - Enabled: Turns limiting on. Default: true.
//   - PublicPerMinute: Requests per minute on public routes. Default: 100.
//   - AdminPerMinute: Requests per minute on admin routes. Default: 50.
//   - AuthFailures: Failed logins allowed per AuthWindow. Default: 5.
//   - AuthWindow: Window for AuthFailures. Default: 5 minutes.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	PublicPerMinute int           `yaml:"public_per_minute"`
	AdminPerMinute  int           `yaml:"admin_per_minute"`
	AuthFailures    int           `yaml:"auth_failures"`
	AuthWindow      time.Duration `yaml:"auth_window"`
}

// DefaultRateLimitConfig returns production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:         true,
		PublicPerMinute: 100,
		AdminPerMinute:  50,
		AuthFailures:    5,
		AuthWindow:      5 * time.Minute,
	}
}

// idleBucketTTL is how long an untouched bucket is kept.
const idleBucketTTL = 10 * time.Minute

// Limiter is a set of token buckets keyed by client.
//
// # Description
//
// Each key gets a bucket holding up to n tokens that refills at n per
// window. Buckets idle for ten minutes are dropped on a later call.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Limiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows n events per window for each key.
func NewLimiter(n int, window time.Duration) *Limiter {
	if n <= 0 {
		n = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:   rate.Limit(float64(n) / window.Seconds()),
		burst:   n,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

// Exhausted reports whether key has no whole token left, without consuming.
func (l *Limiter) Exhausted(key string) bool {
	now := l.now()
	return l.get(key, now).TokensAt(now) < 1
}

// RetryAfter returns how long until key regains one token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	now := l.now()
	missing := 1 - l.get(key, now).TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.limit) * float64(time.Second))
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > idleBucketTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > idleBucketTTL {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimit creates a middleware that answers 429 once a client IP has
// spent its budget. A nil limiter disables limiting.
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !l.Allow(ip) {
			secs := int(math.Ceil(l.RetryAfter(ip).Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
