package patAuth

import (
	"errors"

	"github.com/MrEthical07/patAuth/internal/rate"
	"github.com/MrEthical07/patAuth/jwt"
	"github.com/MrEthical07/patAuth/session"
)

var (
	// ErrAuthFailed is the opaque error surfaced for every rejected credential.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrConfig is returned when key material or required settings are missing.
	ErrConfig = errors.New("authentication configuration error")
	// ErrEngineNotReady is returned by a nil or partially wired Engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrMalformedToken is an exported constant or variable used by the authentication engine.
	ErrMalformedToken = jwt.ErrMalformedToken
	// ErrMalformedHeader is an exported constant or variable used by the authentication engine.
	ErrMalformedHeader = jwt.ErrMalformedHeader
	// ErrInvalidPrefix is an exported constant or variable used by the authentication engine.
	ErrInvalidPrefix = jwt.ErrInvalidPrefix
	// ErrUnsupportedAlgorithm is an exported constant or variable used by the authentication engine.
	ErrUnsupportedAlgorithm = jwt.ErrUnsupportedAlgorithm
	// ErrBadSignature is an exported constant or variable used by the authentication engine.
	ErrBadSignature = jwt.ErrBadSignature
	// ErrExpired is an exported constant or variable used by the authentication engine.
	ErrExpired = jwt.ErrExpired
	// ErrIssuerMismatch is an exported constant or variable used by the authentication engine.
	ErrIssuerMismatch = jwt.ErrIssuerMismatch
	// ErrMissingSubject is an exported constant or variable used by the authentication engine.
	ErrMissingSubject = jwt.ErrMissingSubject
	// ErrContextMismatch is an exported constant or variable used by the authentication engine.
	ErrContextMismatch = jwt.ErrContextMismatch
	// ErrSessionRevoked is returned when a token's PAT is no longer active.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrUnknownUser is returned when the token subject does not resolve.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUserNotFound is returned by UserDirectory implementations for misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned by VerifyCredentials on a password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDirectoryUnavailable is returned when a user lookup fails or times out. Retryable.
	ErrDirectoryUnavailable = errors.New("user directory unavailable")

	// ErrInvalidRefreshToken is returned for unknown or already used refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired is returned for refresh tokens past their expiration.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = session.ErrSessionNotFound
	// ErrSessionCreationFailed is returned when a session cannot be persisted.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrRedisUnavailable is an exported constant or variable used by the authentication engine.
	ErrRedisUnavailable = session.ErrRedisUnavailable
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = rate.ErrRateLimited

	// ErrProviderTokenMissing is returned when no id token was supplied.
	ErrProviderTokenMissing = errors.New("provider id token missing")
	// ErrProviderNotConfigured is returned when federated login has no client id.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrProviderVerification is returned when the provider endpoint cannot be reached.
	ErrProviderVerification = errors.New("provider verification failed")
	// ErrProviderTokenInvalid is returned when the provider rejects the id token.
	ErrProviderTokenInvalid = errors.New("provider id token invalid")
	// ErrProviderAudience is returned when the id token was minted for another client.
	ErrProviderAudience = errors.New("provider id token audience mismatch")
	// ErrProviderTokenExpired is returned when the id token is past its expiration.
	ErrProviderTokenExpired = errors.New("provider id token expired")
	// ErrRegistrationDisabled is returned when an unknown federated user may not be created.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrUserCreationFailed is returned when the directory cannot create a federated user.
	ErrUserCreationFailed = errors.New("user creation failed")
	// ErrProviderIdentityNotFound is returned by ProviderIdentity for unlinked users.
	ErrProviderIdentityNotFound = errors.New("provider identity not found")
	// ErrRevocationDeclined is returned when the revocation policy skips an event.
	ErrRevocationDeclined = errors.New("revocation declined by policy")
)

// AuthError is the error returned for rejected credentials. Its message is
// always "authentication failed"; the internal reason stays reachable through
// errors.Is and errors.As for logging and tests.
type AuthError struct {
	Reason error
}

func (e *AuthError) Error() string { return ErrAuthFailed.Error() }

// Is reports ErrAuthFailed as matching so callers need not know the reason.
func (e *AuthError) Is(target error) bool { return target == ErrAuthFailed }

func (e *AuthError) Unwrap() error { return e.Reason }

func authFailed(reason error) error {
	if reason == nil {
		reason = ErrAuthFailed
	}
	return &AuthError{Reason: reason}
}

// reasonCode names the first failing validation step for logs and events.
func reasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPrefix):
		return "invalid_prefix"
	case errors.Is(err, ErrMalformedToken), errors.Is(err, jwt.ErrDecode):
		return "malformed_token"
	case errors.Is(err, ErrMalformedHeader):
		return "bad_header"
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrMissingSubject):
		return "missing_subject"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrDirectoryUnavailable):
		return "directory_unavailable"
	case errors.Is(err, ErrContextMismatch):
		return "context_mismatch"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	case errors.Is(err, ErrRefreshTokenExpired):
		return "refresh_token_expired"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRedisUnavailable), errors.Is(err, rate.ErrRedisUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConfig), errors.Is(err, jwt.ErrInvalidKey):
		return "config"
	default:
		return "internal"
	}
}
