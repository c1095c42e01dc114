package provider

import (
	"time"

	"golang.org/x/time/rate"
)

// CoinGecko free tier allows roughly ten calls a minute; stay under it.
const (
	DefaultRequestsPerMinute = 8
	DefaultBurst             = 2
)

// NewRateLimiter returns a token bucket that refills requestsPerMinute tokens
// a minute and holds at most burst. Wait acquires one token.
func NewRateLimiter(requestsPerMinute, burst int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst)
}
