// Package patAuth issues, validates, refreshes and revokes JWT access tokens
// that carry a personal access token (PAT) id, with paired refresh tokens,
// multiple concurrent sessions per user and federated sign-in.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// patAuth is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (IssuedToken, TokenPair, SessionInfo, etc.). Flow orchestration, rate limiting and event
// dispatch live under internal/; the token codec lives in jwt/ and the Redis record store in
// session/.
//
// # What this package must NOT do
//
//   - Expose Redis clients or record encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports patAuth (no import cycles).
//
// # Performance contract
//
// Authenticate is the hot path: one directory lookup and one Redis round trip to confirm
// the PAT is active, plus a best-effort usage bump. Issue and rotate run one Lua script
// each for the session write.
package patAuth
