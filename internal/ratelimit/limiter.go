// Package ratelimit implements per-route rate limiting for the REST client,
// driven by the server's rate limit response headers.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultLimit    = 5
	defaultInterval = 200 * time.Millisecond
	defaultBackoff  = time.Second
)

// Bucket is the rate limit state of one route
type Bucket struct {
	Remaining int       // requests remaining in the current window
	Limit     int       // requests allowed per window
	ResetAt   time.Time // when the window resets
	limiter   *rate.Limiter
	mu        sync.Mutex
}

// Limiter tracks buckets per route
type Limiter struct {
	buckets map[string]*Bucket
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewLimiter creates a limiter with empty buckets
func NewLimiter(logger *zap.Logger) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		logger:  logger.Named("ratelimit"),
	}
}

func (l *Limiter) bucket(route string) *Bucket {
	l.mu.RLock()
	b, ok := l.buckets[route]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[route]; ok {
		return b
	}

	// Until the server tells us otherwise allow 5 requests per second
	b = &Bucket{
		Remaining: defaultLimit,
		Limit:     defaultLimit,
		ResetAt:   time.Now().Add(time.Second),
		limiter:   rate.NewLimiter(rate.Every(defaultInterval), defaultLimit),
	}
	l.buckets[route] = b
	return b
}

// Wait blocks until a request on route is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, route string) error {
	b := l.bucket(route)

	b.mu.Lock()
	var pause time.Duration
	if b.Remaining <= 0 {
		pause = time.Until(b.ResetAt)
	}
	limiter := b.limiter
	b.mu.Unlock()

	if pause > 0 {
		l.logger.Warn("rate limit exhausted, waiting",
			zap.String("route", route),
			zap.Duration("wait", pause),
		)
		timer := time.NewTimer(pause)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}

// UpdateFromHeaders applies the X-RateLimit-* headers of a response
func (l *Limiter) UpdateFromHeaders(route string, headers http.Header) {
	b := l.bucket(route)

	b.mu.Lock()
	defer b.mu.Unlock()

	if v, err := strconv.Atoi(headers.Get("X-RateLimit-Remaining")); err == nil {
		b.Remaining = v
	}
	if v, err := strconv.Atoi(headers.Get("X-RateLimit-Limit")); err == nil {
		b.Limit = v
	}
	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		// RFC3339 or unix seconds
		if t, err := time.Parse(time.RFC3339, reset); err == nil {
			b.ResetAt = t
		} else if v, err := strconv.ParseInt(reset, 10, 64); err == nil {
			b.ResetAt = time.Unix(v, 0)
		}
	}

	if b.Limit > 0 {
		if window := time.Until(b.ResetAt); window > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(float64(b.Limit)/window.Seconds()), b.Limit)
		}
	}

	l.logger.Debug("updated rate limit",
		zap.String("route", route),
		zap.Int("remaining", b.Remaining),
		zap.Int("limit", b.Limit),
		zap.Time("reset_at", b.ResetAt),
	)
}

// HandleTooManyRequests empties the bucket after a 429 and returns how long
// the server asked us to wait
func (l *Limiter) HandleTooManyRequests(route string, headers http.Header) time.Duration {
	b := l.bucket(route)

	b.mu.Lock()
	defer b.mu.Unlock()

	var retryAfter time.Duration
	if v, err := strconv.Atoi(headers.Get("Retry-After")); err == nil {
		retryAfter = time.Duration(v) * time.Second
	}
	if retryAfter == 0 {
		if v, err := strconv.ParseInt(headers.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			retryAfter = time.Until(time.Unix(v, 0))
		}
	}
	if retryAfter <= 0 {
		retryAfter = defaultBackoff
	}

	b.Remaining = 0
	b.ResetAt = time.Now().Add(retryAfter)

	l.logger.Warn("rate limited by API",
		zap.String("route", route),
		zap.Duration("retry_after", retryAfter),
	)
	return retryAfter
}

// Status returns the current state of a route's bucket
func (l *Limiter) Status(route string) (remaining int, limit int, resetAt time.Time) {
	b := l.bucket(route)

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Remaining, b.Limit, b.ResetAt
}

// Reset clears all buckets
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*Bucket)
}
