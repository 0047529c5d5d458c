// Package server implements per-connection throttling that protects the hub
// from event floods.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter builds a token bucket holding capacity tokens that refills
// completely once per interval.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(capacity) / interval.Seconds()
	if perSecond <= 0 {
		perSecond = float64(capacity)
	}

	return rate.NewLimiter(rate.Limit(perSecond), capacity)
}
