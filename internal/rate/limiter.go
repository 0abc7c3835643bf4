package rate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Route names.
const (
	RouteRefreshToken   = "refresh-token"
	RouteValidateToken  = "validate-token"
	RouteGoogleAuth     = "google-auth"
	RouteGoogleUserInfo = "google-user-info"
	RouteLogin          = "login"
)

// Policy is the request budget of one route.
type Policy struct {
	Route  string
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the stock route table.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		RouteRefreshToken:   {Route: RouteRefreshToken, Limit: 10, Window: time.Minute},
		RouteValidateToken:  {Route: RouteValidateToken, Limit: 2, Window: time.Minute},
		RouteGoogleAuth:     {Route: RouteGoogleAuth, Limit: 5, Window: time.Minute},
		RouteGoogleUserInfo: {Route: RouteGoogleUserInfo, Limit: 10, Window: time.Minute},
		RouteLogin:          {Route: RouteLogin, Limit: 5, Window: time.Minute},
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces route policies with Redis counters.
type Limiter struct {
	redis    redis.UniversalClient
	prefix   string
	policies map[string]Policy
}

// New creates a rate [Limiter]. Policies with a non-positive limit or window
// are dropped, which disables limiting for that route.
func New(redisClient redis.UniversalClient, prefix string, policies map[string]Policy) *Limiter {
	clean := make(map[string]Policy, len(policies))
	for route, p := range policies {
		if p.Limit > 0 && p.Window > 0 {
			p.Route = route
			clean[route] = p
		}
	}
	return &Limiter{redis: redisClient, prefix: prefix, policies: clean}
}

// Policies returns the active policies sorted by route.
func (l *Limiter) Policies() []Policy {
	out := make([]Policy, 0, len(l.policies))
	for _, p := range l.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Policy returns the policy for route.
func (l *Limiter) Policy(route string) (Policy, bool) {
	p, ok := l.policies[route]
	return p, ok
}

func (l *Limiter) key(route, subject string) string {
	return l.prefix + ":rl:" + route + ":" + subject
}

// Allow counts one hit for subject on route. A route without a policy is
// always allowed.
func (l *Limiter) Allow(ctx context.Context, route, subject string) (Decision, error) {
	p, ok := l.policies[route]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	key := l.key(route, subject)
	count, err := l.incrementWithTTL(ctx, key, p.Window)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: count <= int64(p.Limit), Limit: p.Limit}
	if d.Allowed {
		d.Remaining = p.Limit - int(count)
		return d, nil
	}

	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		ttl = p.Window
	}
	d.RetryAfter = ttl
	return d, nil
}

// Reset clears the counter for subject on route.
func (l *Limiter) Reset(ctx context.Context, route, subject string) error {
	if _, ok := l.policies[route]; !ok {
		return ErrUnknownRoute
	}
	if err := l.redis.Del(ctx, l.key(route, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set only on the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
