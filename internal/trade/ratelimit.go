package trade

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// RateLimitError is the 429 response body.
type RateLimitError struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	clock clockwork.Clock
	rate  rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per minute per IP with the given
// burst.
func NewRateLimiter(clock clockwork.Clock, perMinute float64, burst int) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		clock:    clock,
		rate:     rate.Limit(perMinute / 60),
		burst:    burst,
		idle:     5 * time.Minute,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow reports whether a request from ip may proceed now, and otherwise
// how long until it may.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Prune drops limiters idle for longer than the idle period.
func (rl *RateLimiter) Prune() int {
	cutoff := rl.clock.Now().Add(-rl.idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
			n++
		}
	}
	return n
}

// Run prunes idle limiters until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := rl.clock.NewTicker(rl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			rl.Prune()
		}
	}
}

// Middleware rejects requests over the limit with a 429 JSON body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := rl.Allow(clientIP(r))
		if !allowed {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(RateLimitError{
				Error:      "too many requests, slow down",
				Reason:     "api_rate_limit",
				RetryAfter: secs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already applied X-Forwarded-For when the server runs behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
