// Package rate provides the Redis-backed fixed-window limiter behind the
// per-route request budgets.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// {prefix}:rl:{route}:{subject}; the subject is the client IP or user id.
//
// # What this package must NOT do
//
//   - Decide which route a request belongs to. Callers pass the route.
//   - Be imported outside the patAuth module.
package rate
