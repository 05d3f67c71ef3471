package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimiter is a global token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perSecond events on average with bursts of burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// RateLimit rejects requests with 429 once the bucket is empty.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
