// Package papersources provides the rate-limited, retrying HTTP client used
// to talk to bibliographic sources.
package papersources

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket rate limiter for controlling request rates
// to external APIs. It is safe for concurrent use because the underlying
// rate.Limiter is goroutine-safe for all operations.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate of requests per second.
// burst is the maximum burst size (number of tokens that can be consumed at once).
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// NewMinIntervalLimiter creates a limiter that admits one request at a time
// with starts spaced at least 1/ratePerSecond apart. K requests therefore
// take at least (K-1)/ratePerSecond.
func NewMinIntervalLimiter(ratePerSecond float64) *RateLimiter {
	return NewRateLimiter(ratePerSecond, 1)
}

// Wait blocks until a request is allowed or the context is canceled.
// It returns an error if the context is canceled or the deadline is exceeded.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow returns true if a request is allowed without waiting.
// It consumes one token if allowed, and returns false if no tokens are available.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Interval returns the minimum spacing between request starts.
func (r *RateLimiter) Interval() time.Duration {
	limit := r.limiter.Limit()
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}
