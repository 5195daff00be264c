package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per client address. Idle buckets
// are evicted after the idle period.
type RateLimiter struct {
	buckets *cache.Cache
	limit   rate.Limit
	burst   int
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests with
// the given burst for each client.
func NewRateLimiter(perSecond float64, burst int, idle time.Duration) *RateLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &RateLimiter{
		buckets: cache.New(idle, idle),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if v, ok := rl.buckets.Get(key); ok {
		limiter := v.(*rate.Limiter)
		rl.buckets.SetDefault(key, limiter)
		return limiter.Allow()
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.buckets.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// Lost the race with another request from the same client
		if v, ok := rl.buckets.Get(key); ok {
			limiter = v.(*rate.Limiter)
		}
	}
	return limiter.Allow()
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeErrorResponse(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
