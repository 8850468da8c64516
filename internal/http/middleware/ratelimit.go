package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	bucketTTL     = 10 * time.Minute
	sweepInterval = 5 * time.Minute
)

// visitor tracks the token balance for one client address.
type visitor struct {
	tokens float64
	seen   time.Time
}

// RateLimiter is a token-bucket limiter keyed by client address. Buckets
// refill continuously at rate tokens per second up to burst. Stale buckets
// are swept inline from Allow, so the limiter owns no goroutine.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      float64
	burst     float64
	nextSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows rate requests per second with the given burst size
// per client address.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		burst:    float64(burst),
		now:      time.Now,
	}
}

// Allow consumes one token for addr, reporting whether the request may proceed.
func (rl *RateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	v, ok := rl.visitors[addr]
	if !ok {
		v = &visitor{tokens: rl.burst}
		rl.visitors[addr] = v
	} else {
		v.tokens = min(rl.burst, v.tokens+now.Sub(v.seen).Seconds()*rl.rate)
	}
	v.seen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	cutoff := now.Add(-bucketTTL)
	for addr, v := range rl.visitors {
		if v.seen.Before(cutoff) {
			delete(rl.visitors, addr)
		}
	}
	rl.nextSweep = now.Add(sweepInterval)
}

// RateLimit rejects requests above the configured per-address rate with
// 429 Too Many Requests.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientAddr(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr prefers the X-Real-Ip set by chi's RealIP middleware, then the
// host half of RemoteAddr.
func clientAddr(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
