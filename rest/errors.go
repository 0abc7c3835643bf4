package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/middleware"
)

type apiError struct {
	status  int
	code    string
	message string
}

// errorTable is checked in order; the first matching sentinel wins.
var errorTable = []struct {
	err error
	apiError
}{
	{patAuth.ErrRefreshTokenExpired, apiError{http.StatusUnauthorized, "refresh_token_expired", "Refresh token expired."}},
	{patAuth.ErrInvalidRefreshToken, apiError{http.StatusUnauthorized, "invalid_refresh_token", "Invalid refresh token."}},
	{patAuth.ErrSessionNotFound, apiError{http.StatusUnauthorized, "invalid_refresh_token", "Invalid refresh token."}},

	{patAuth.ErrProviderTokenMissing, apiError{http.StatusBadRequest, "missing_id_token", "Google ID token is required."}},
	{patAuth.ErrProviderNotConfigured, apiError{http.StatusInternalServerError, "google_not_configured", "Google authentication is not properly configured."}},
	{patAuth.ErrProviderTokenInvalid, apiError{http.StatusUnauthorized, "invalid_google_token", "Invalid Google ID token."}},
	{patAuth.ErrProviderVerification, apiError{http.StatusUnauthorized, "google_verification_failed", "Google token verification failed."}},
	{patAuth.ErrProviderAudience, apiError{http.StatusUnauthorized, "invalid_audience", "Google token audience mismatch."}},
	{patAuth.ErrProviderTokenExpired, apiError{http.StatusUnauthorized, "token_expired", "Google ID token has expired."}},
	{patAuth.ErrRegistrationDisabled, apiError{http.StatusForbidden, "registration_disabled", "User registration via Google is disabled."}},
	{patAuth.ErrUserCreationFailed, apiError{http.StatusInternalServerError, "user_creation_failed", "Failed to create user account."}},
	{patAuth.ErrUserNotFound, apiError{http.StatusNotFound, "user_not_found", "User not found."}},

	{patAuth.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "invalid_credentials", "Invalid username or password."}},
	{patAuth.ErrRevocationDeclined, apiError{http.StatusForbidden, "revocation_declined", "Session revocation is not allowed."}},
	{patAuth.ErrRateLimited, apiError{http.StatusTooManyRequests, middleware.CodeRateLimited, "Too many requests. Please try again later."}},
	{patAuth.ErrConfig, apiError{http.StatusUnauthorized, middleware.CodeAuthentication, "Authentication failed."}},
	{patAuth.ErrDirectoryUnavailable, apiError{http.StatusServiceUnavailable, middleware.CodeDirectoryDown, "Authentication is temporarily unavailable."}},
	{patAuth.ErrRedisUnavailable, apiError{http.StatusServiceUnavailable, middleware.CodeUnavailable, "Authentication is temporarily unavailable."}},
	{patAuth.ErrEngineNotReady, apiError{http.StatusServiceUnavailable, middleware.CodeUnavailable, "Authentication is temporarily unavailable."}},
	{patAuth.ErrAuthFailed, apiError{http.StatusUnauthorized, middleware.CodeAuthentication, "Authentication failed."}},
}

var errInternal = apiError{http.StatusInternalServerError, "internal_error", "Internal server error."}

func classify(err error) (apiError, bool) {
	for _, row := range errorTable {
		if errors.Is(err, row.err) {
			return row.apiError, true
		}
	}
	return errInternal, false
}

// fail aborts c with the error envelope for err. Unclassified errors and
// configuration errors are logged at error level.
func (h *Handler) fail(c *gin.Context, err error) {
	e, known := classify(err)
	if !known || errors.Is(err, patAuth.ErrConfig) {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.ContextKeyRequestID)),
			zap.Error(err),
		)
	}
	middleware.Abort(c, e.status, e.code, e.message)
}
