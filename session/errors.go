package session

import "errors"

var (
	// ErrRedisUnavailable wraps transport and script failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound is returned when a PAT has no record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPATCollision is returned when a new PAT already exists for the user.
	ErrPATCollision = errors.New("pat already exists")
	// ErrRefreshNotFound is returned for unknown or already consumed refresh tokens.
	ErrRefreshNotFound = errors.New("refresh token not found")
	// ErrRefreshExpired is returned when a refresh token is past its expiration.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshCollision is returned when a new refresh token is already bound.
	ErrRefreshCollision = errors.New("refresh token already exists")
	// ErrRecordCorrupt is returned when a stored record cannot be decoded.
	ErrRecordCorrupt = errors.New("session record corrupt")
)
