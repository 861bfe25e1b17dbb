package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/models"
)

func TestRateLimiterAllowDeny(t *testing.T) {
	rl := &RateLimiter{buckets: make(map[string]*bucket)}

	// Should allow up to the limit
	for i := 0; i < 5; i++ {
		if !rl.Allow("k1", 5) {
			t.Fatalf("expected allow on request %d", i+1)
		}
	}

	// Should deny at the limit
	if rl.Allow("k1", 5) {
		t.Fatal("expected deny after limit reached")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := &RateLimiter{buckets: make(map[string]*bucket)}

	// Exhaust the limit
	for i := 0; i < 3; i++ {
		rl.Allow("k1", 3)
	}
	if rl.Allow("k1", 3) {
		t.Fatal("expected deny after limit")
	}

	// Simulate window expiry by backdating the bucket
	rl.mu.Lock()
	rl.buckets["k1"].windowAt = time.Now().Add(-2 * time.Minute)
	rl.mu.Unlock()

	// Should allow again after window reset
	if !rl.Allow("k1", 3) {
		t.Fatal("expected allow after window reset")
	}
}

func TestRateLimiterKeyIsolation(t *testing.T) {
	rl := &RateLimiter{buckets: make(map[string]*bucket)}

	// Exhaust key1
	for i := 0; i < 2; i++ {
		rl.Allow("key1", 2)
	}
	if rl.Allow("key1", 2) {
		t.Fatal("expected key1 denied")
	}

	// key2 should still be allowed
	if !rl.Allow("key2", 2) {
		t.Fatal("expected key2 allowed")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := &RateLimiter{buckets: make(map[string]*bucket)}

	rl.Allow("stale", 10)
	rl.Allow("fresh", 10)

	// Backdate the stale entry
	rl.mu.Lock()
	rl.buckets["stale"].windowAt = time.Now().Add(-5 * time.Minute)
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.Lock()
	_, hasStale := rl.buckets["stale"]
	_, hasFresh := rl.buckets["fresh"]
	rl.mu.Unlock()

	if hasStale {
		t.Fatal("expected stale entry to be cleaned up")
	}
	if !hasFresh {
		t.Fatal("expected fresh entry to remain")
	}
}

func TestWithRateLimitSeparatesReadsAndWrites(t *testing.T) {
	srv, store := newTestServer(t, func(cfg *Config) {
		cfg.RateLimitRead = 3
		cfg.RateLimitWrite = 2
	})
	_, token := createTestUser(t, store, "ratelimit@test.com")

	for i := 0; i < 2; i++ {
		w := doRequest(srv, "POST", "/v1/records", token, models.Record{RecordSetID: 1, Values: map[string]any{"n": i}})
		AssertStatus(t, w, http.StatusCreated)
	}
	w := doRequest(srv, "POST", "/v1/records", token, models.Record{RecordSetID: 1})
	AssertErrorResponse(t, w, http.StatusTooManyRequests, ErrCodeRateLimited)

	// Reads have their own bucket
	for i := 0; i < 3; i++ {
		AssertStatus(t, doRequest(srv, "GET", "/v1/me", token, nil), http.StatusOK)
	}
	AssertErrorResponse(t, doRequest(srv, "GET", "/v1/me", token, nil), http.StatusTooManyRequests, ErrCodeRateLimited)

	// Other keys are unaffected
	_, other := createTestUser(t, store, "other@test.com")
	AssertStatus(t, doRequest(srv, "GET", "/v1/me", other, nil), http.StatusOK)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(req); got != "1.2.3.4" {
		t.Fatalf("forwarded: got %q", got)
	}
}
