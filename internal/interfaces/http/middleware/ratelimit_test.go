package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter_BurstThenDeny(t *testing.T) {
	l := NewTokenBucketLimiter(1, 3, 0)

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow("client-a")
		assert.True(t, allowed, "request %d within burst should pass", i)
	}

	allowed, info := l.Allow("client-a")
	assert.False(t, allowed)
	assert.Equal(t, 3, info.Limit)
	assert.Equal(t, 0, info.Remaining)
	assert.False(t, info.ResetAt.IsZero())
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	l := NewTokenBucketLimiter(10, 2, 0)

	for i := 0; i < 2; i++ {
		allowed, _ := l.Allow("client-a")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("client-a")
	require.False(t, allowed)

	// Backdate the bucket instead of sleeping: one second at 10 rps refills
	// it to the burst cap.
	l.mu.RLock()
	bucket := l.buckets["client-a"]
	l.mu.RUnlock()
	bucket.mu.Lock()
	bucket.lastRefill = time.Now().Add(-time.Second)
	bucket.mu.Unlock()

	allowed, info := l.Allow("client-a")
	assert.True(t, allowed)
	assert.Equal(t, 1, info.Remaining)
}

func TestTokenBucketLimiter_PerKeyIsolation(t *testing.T) {
	l := NewTokenBucketLimiter(1, 1, 0)

	allowed, _ := l.Allow("client-a")
	require.True(t, allowed)
	allowed, _ = l.Allow("client-a")
	require.False(t, allowed)

	// A different key has its own bucket.
	allowed, _ = l.Allow("client-b")
	assert.True(t, allowed)
	assert.Equal(t, 2, l.BucketCount())
}

func TestTokenBucketLimiter_Cleanup(t *testing.T) {
	l := NewTokenBucketLimiter(5, 5, time.Minute)
	defer l.Stop()

	l.Allow("client-a")
	require.Equal(t, 1, l.BucketCount())

	// Backdate and refill the bucket so it counts as idle at capacity.
	l.mu.RLock()
	bucket := l.buckets["client-a"]
	l.mu.RUnlock()
	bucket.mu.Lock()
	bucket.tokens = 5
	bucket.lastRefill = time.Now().Add(-2 * time.Minute)
	bucket.mu.Unlock()

	l.cleanup()
	assert.Equal(t, 0, l.BucketCount())
}

func TestRateLimit_Middleware(t *testing.T) {
	l := NewTokenBucketLimiter(1, 2, 0)
	config := DefaultRateLimitConfig()
	config.KeyFunc = func(r *http.Request) string { return "fixed" }

	handler := RateLimit(l, config)(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/sequences", nil)
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sequences", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "COMMON_007")
}

func TestRateLimit_SkipPaths(t *testing.T) {
	l := NewTokenBucketLimiter(1, 1, 0)
	config := DefaultRateLimitConfig()
	config.KeyFunc = func(r *http.Request) string { return "fixed" }

	handler := RateLimit(l, config)(okHandler())

	// Health probes never consume tokens.
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 0, l.BucketCount())
}

func TestRateLimit_ExceededHandler(t *testing.T) {
	l := NewTokenBucketLimiter(1, 1, 0)
	config := DefaultRateLimitConfig()
	config.KeyFunc = func(r *http.Request) string { return "fixed" }
	config.ExceededHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "custom")
	})

	handler := RateLimit(l, config)(okHandler())

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w2.Code)
	assert.Equal(t, "custom", w2.Body.String())
}

func TestDefaultKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:51234"
	assert.Equal(t, "10.0.0.1:51234", defaultKeyFunc(r))

	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", defaultKeyFunc(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", defaultKeyFunc(r))
}

func TestAPIKeyKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:51234"
	assert.Equal(t, "ip:10.0.0.1:51234", APIKeyKeyFunc(r))

	ctx := context.WithValue(r.Context(), apiKeyNameContextKey, "anot****")
	r = r.WithContext(ctx)
	assert.Equal(t, "apikey:anot****", APIKeyKeyFunc(r))
}
