package patAuth

import (
	"context"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/internal/rate"
)

// Route names of the built-in rate-limit table.
const (
	RouteRefreshToken   = rate.RouteRefreshToken
	RouteValidateToken  = rate.RouteValidateToken
	RouteGoogleAuth     = rate.RouteGoogleAuth
	RouteGoogleUserInfo = rate.RouteGoogleUserInfo
	RouteLogin          = rate.RouteLogin
)

// RateLimitPolicies returns the active route policies sorted by route. It is
// empty when rate limiting is disabled.
func (e *Engine) RateLimitPolicies() []RateLimitPolicy {
	if e == nil || e.rateLimiter == nil {
		return nil
	}
	policies := e.rateLimiter.Policies()
	out := make([]RateLimitPolicy, 0, len(policies))
	for _, p := range policies {
		out = append(out, RateLimitPolicy{Route: p.Route, Limit: p.Limit, Window: p.Window})
	}
	return out
}

// AllowRequest counts one hit for subject on route. Routes without a policy,
// and every route when rate limiting is disabled, are always allowed. A
// denied request also returns ErrRateLimited.
func (e *Engine) AllowRequest(ctx context.Context, route, subject string) (RateLimitDecision, error) {
	if e == nil || e.rateLimiter == nil {
		return RateLimitDecision{Allowed: true}, nil
	}

	d, err := e.rateLimiter.Allow(ctx, route, subject)
	if err != nil {
		e.logger.Warn("rate limiter unavailable", zap.String("route", route), zap.Error(err))
		return RateLimitDecision{}, err
	}
	out := RateLimitDecision{Allowed: d.Allowed, Limit: d.Limit, Remaining: d.Remaining, RetryAfter: d.RetryAfter}
	if !d.Allowed {
		e.emitRateLimit(ctx, route, subject)
		return out, ErrRateLimited
	}
	return out, nil
}
