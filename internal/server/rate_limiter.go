package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows burst messages up front and refills the whole bucket
// once per interval.
func newRateLimiter(burst int, interval time.Duration) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}
