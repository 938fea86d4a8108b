package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewLimiter(logger)
}

func TestNewLimiter(t *testing.T) {
	limiter := newTestLimiter(t)

	if limiter.buckets == nil {
		t.Error("Expected buckets map to be initialized")
	}
}

func TestWait_NewRoute(t *testing.T) {
	limiter := newTestLimiter(t)

	start := time.Now()
	if err := limiter.Wait(context.Background(), "/users/@me/friends"); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}

	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("Wait() took too long for a new route: %v", d)
	}
}

func TestUpdateFromHeaders(t *testing.T) {
	limiter := newTestLimiter(t)
	route := "/users/@me/requests"

	headers := http.Header{}
	headers.Set("X-RateLimit-Limit", "50")
	headers.Set("X-RateLimit-Remaining", "45")
	headers.Set("X-RateLimit-Reset", time.Now().Add(5*time.Second).Format(time.RFC3339))

	limiter.UpdateFromHeaders(route, headers)

	remaining, limit, _ := limiter.Status(route)
	if limit != 50 {
		t.Errorf("Expected limit 50, got %d", limit)
	}
	if remaining != 45 {
		t.Errorf("Expected remaining 45, got %d", remaining)
	}
}

func TestUpdateFromHeaders_UnixReset(t *testing.T) {
	limiter := newTestLimiter(t)
	route := "/users/@me/blocked"

	reset := time.Now().Add(10 * time.Second).Unix()
	headers := http.Header{}
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

	limiter.UpdateFromHeaders(route, headers)

	_, _, resetAt := limiter.Status(route)
	if resetAt.Unix() != reset {
		t.Errorf("Expected reset %d, got %d", reset, resetAt.Unix())
	}
}

func TestUpdateFromHeaders_InvalidValues(t *testing.T) {
	limiter := newTestLimiter(t)
	route := "/users/42"

	headers := http.Header{}
	headers.Set("X-RateLimit-Limit", "100")
	headers.Set("X-RateLimit-Remaining", "many")
	headers.Set("X-RateLimit-Reset", "invalid_time")

	limiter.UpdateFromHeaders(route, headers)

	remaining, limit, _ := limiter.Status(route)
	if limit != 100 {
		t.Errorf("Expected limit 100, got %d", limit)
	}
	if remaining != defaultLimit {
		t.Errorf("Expected remaining to keep its default %d, got %d", defaultLimit, remaining)
	}
}

func TestWait_Exhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping rate limit test in short mode")
	}
	limiter := newTestLimiter(t)
	route := "/users/@me/friends"

	headers := http.Header{}
	headers.Set("Retry-After", "1")
	retryAfter := limiter.HandleTooManyRequests(route, headers)
	if retryAfter != time.Second {
		t.Fatalf("Expected retry after 1s, got %v", retryAfter)
	}

	start := time.Now()
	if err := limiter.Wait(context.Background(), route); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}

	if d := time.Since(start); d < 900*time.Millisecond {
		t.Errorf("Wait() did not block long enough: %v", d)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	limiter := newTestLimiter(t)
	route := "/users/@me/requests"

	headers := http.Header{}
	headers.Set("Retry-After", "30")
	limiter.HandleTooManyRequests(route, headers)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, route)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestHandleTooManyRequests_DefaultBackoff(t *testing.T) {
	limiter := newTestLimiter(t)

	retryAfter := limiter.HandleTooManyRequests("/users/7", http.Header{})
	if retryAfter != defaultBackoff {
		t.Errorf("Expected default backoff %v, got %v", defaultBackoff, retryAfter)
	}

	remaining, _, resetAt := limiter.Status("/users/7")
	if remaining != 0 {
		t.Errorf("Expected bucket to be empty, got %d", remaining)
	}
	if !resetAt.After(time.Now()) {
		t.Error("Expected reset time in the future")
	}
}

func TestConcurrentAccess(t *testing.T) {
	limiter := newTestLimiter(t)
	route := "/users/@me/friends"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(context.Background(), route); err != nil {
				t.Errorf("Wait() failed: %v", err)
			}

			headers := http.Header{}
			headers.Set("X-RateLimit-Limit", "100")
			headers.Set("X-RateLimit-Remaining", "90")
			limiter.UpdateFromHeaders(route, headers)
		}()
	}
	wg.Wait()
}

func TestIndependentRoutes(t *testing.T) {
	limiter := newTestLimiter(t)
	routes := []string{"/users/@me/friends", "/users/@me/requests", "/users/@me/blocked"}

	for i, route := range routes {
		headers := http.Header{}
		headers.Set("X-RateLimit-Limit", strconv.Itoa(50+i*10))
		limiter.UpdateFromHeaders(route, headers)
	}

	for i, route := range routes {
		_, limit, _ := limiter.Status(route)
		if limit != 50+i*10 {
			t.Errorf("Expected limit %d for %s, got %d", 50+i*10, route, limit)
		}
	}

	limiter.Reset()
	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	if len(limiter.buckets) != 0 {
		t.Errorf("Expected no buckets after reset, got %d", len(limiter.buckets))
	}
}
