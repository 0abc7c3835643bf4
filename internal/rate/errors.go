package rate

import "errors"

var (
	// ErrRateLimited is returned when a route budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps limiter storage failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrUnknownRoute is returned for a route without a policy.
	ErrUnknownRoute = errors.New("unknown rate limit route")
)
