package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	patAuth "github.com/MrEthical07/patAuth"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [Guard] or [Require].
// It is absent for requests that passed through unauthenticated.
func AuthResultFromContext(ctx context.Context) (*patAuth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*patAuth.AuthResult)
	return res, ok
}

// Guard authenticates the Authorization header of each request. A rejected
// bearer credential ends the request with 401 (503 when the user directory
// is unavailable); a request without one passes through unauthenticated.
func Guard(engine *patAuth.Engine) func(http.Handler) http.Handler {
	return guard(engine, false)
}

func guard(engine *patAuth.Engine, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, CodeAuthentication, msgAuthFailed)
				return
			}

			r = r.WithContext(patAuth.WithRequestGuard(r.Context()))
			res := engine.AuthenticateRequest(r)

			switch res.State {
			case patAuth.AuthRejected:
				status, code, msg := Rejection(res.Err)
				writeError(w, status, code, msg)
				return
			case patAuth.AuthPassThrough:
				if required {
					writeError(w, http.StatusUnauthorized, CodeNoAuthHeader, msgNoAuthHeader)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, &res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Error codes written by the guards.
const (
	CodeAuthentication = "authentication_error"
	CodeBadAuthHeader  = "jwt_auth_bad_auth_header"
	CodeNoAuthHeader   = "jwt_auth_no_auth_header"
	CodeUnavailable    = "service_unavailable"
	CodeDirectoryDown  = "directory_unavailable"
	CodeRateLimited    = "rate_limited"
)

const (
	msgAuthFailed    = "Authentication failed."
	msgBadAuthHeader = "Authorization header malformed."
	msgNoAuthHeader  = "Authorization header not found."
	msgConfig        = "JWT configuration error."
	msgUnavailable   = "Authentication is temporarily unavailable."
)

// Rejection maps a rejected authentication to an HTTP status, error code
// and client-facing message. Configuration errors are reported as 401 like
// any other failure.
func Rejection(err error) (int, string, string) {
	switch {
	case errors.Is(err, patAuth.ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable, CodeDirectoryDown, msgUnavailable
	case errors.Is(err, patAuth.ErrRedisUnavailable), errors.Is(err, patAuth.ErrEngineNotReady):
		return http.StatusServiceUnavailable, CodeUnavailable, msgUnavailable
	case errors.Is(err, patAuth.ErrConfig):
		return http.StatusUnauthorized, CodeAuthentication, msgConfig
	case errors.Is(err, patAuth.ErrMalformedToken), errors.Is(err, patAuth.ErrInvalidPrefix):
		return http.StatusUnauthorized, CodeBadAuthHeader, msgBadAuthHeader
	default:
		return http.StatusUnauthorized, CodeAuthentication, msgAuthFailed
	}
}

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Code: code, Message: message, Status: status})
}
