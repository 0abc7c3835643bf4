// Package internal contains helpers that are private to patAuth: PAT and
// refresh token generation and client device/IP resolution.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function flow orchestrators for Engine operations
//   - rate: Redis-backed fixed-window route limiter
//
// # What this package must NOT do
//
//   - Export types that appear in the public patAuth API.
//   - Be imported by any package outside the patAuth module.
package internal
