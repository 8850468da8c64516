package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterBurstThenRefill(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return clock }

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("burst requests must be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("request beyond burst must be rejected")
	}

	// One token refills after one second at rate 1.
	clock = clock.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("refilled token must be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("only one token refills per second")
	}
}

func TestRateLimiterIsolatesAddresses(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first address must be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("first address exhausted its burst")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("second address must have its own bucket")
	}
}

func TestRateLimiterSweepsStaleBuckets(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return clock }

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	clock = clock.Add(bucketTTL + sweepInterval)
	rl.Allow("10.0.0.3")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.visitors) != 1 {
		t.Fatalf("stale buckets not swept, %d remain", len(rl.visitors))
	}
}

func TestRateLimitMiddlewareRejectsWithRetryAfter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := RateLimit(1, 1)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("rejection must carry a Retry-After header")
	}
}

func TestClientAddrPrefersRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:9999"
	if got := clientAddr(req); got != "10.1.2.3" {
		t.Fatalf("clientAddr = %q, want host half of RemoteAddr", got)
	}

	req.Header.Set("X-Real-Ip", "198.51.100.4")
	if got := clientAddr(req); got != "198.51.100.4" {
		t.Fatalf("clientAddr = %q, want X-Real-Ip value", got)
	}
}
