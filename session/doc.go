// Package session provides the Redis-backed PAT session store and the
// in-memory [Index] view of one user's sessions.
//
// # Key layout
//
// Every key lives under the configured prefix p:
//
//	p:u:{uid}:set         HASH  pat -> compact access token
//	p:u:{uid}:order       ZSET  pat scored by insertion sequence
//	p:u:{uid}:rec:{pat}   HASH  encoded [Record] fields
//	p:u:{uid}:refresh     HASH  refresh token -> expiration (unix)
//	p:rt:{refresh}        HASH  {uid, pat, exp}
//	p:users               ZSET  user ids with session data (lex paging)
//	p:seq                 STR   insertion counter
//
// Multi-key mutations (create with eviction, refresh consumption, delete,
// prune) run as single Lua scripts so no partial state is observable.
//
// The scripts build per-user and p:rt: key names from their arguments
// rather than declaring them in KEYS, so the store needs one Redis node
// (replicas and sentinel failover are fine). Redis Cluster is not supported.
//
// # What this package must NOT do
//
//   - Import patAuth or jwt (no upward imports).
//   - Decide session limits or token validity. The Engine does that.
package session
