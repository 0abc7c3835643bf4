// Package middleware adapts patAuth.Engine authentication to net/http and
// gin.
//
// # Guards
//
//   - [Guard] authenticates bearer requests and lets requests without one
//     through unauthenticated.
//   - [Require] additionally rejects requests without a bearer credential.
//   - [Gin] and [GinRequire] are the gin equivalents.
//
// Every guard attaches a once-per-request guard to the request context, so
// handlers that call Engine.Authenticate again get the same outcome without
// a second store round trip.
//
// # Supporting gin middleware
//
//   - [RequestID] tags each request with an id.
//   - [Logger] logs each request on zap.
//   - [RateLimit] enforces an engine route policy with 429 and Retry-After.
//
// This package translates HTTP semantics into Engine calls. It does not
// parse tokens or access Redis itself.
package middleware
