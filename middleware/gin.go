package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	patAuth "github.com/MrEthical07/patAuth"
)

// Gin context keys set by [Gin] and [GinRequire].
const (
	ContextKeyAuth   = "patauth.auth"
	ContextKeyUserID = "user_id"
	ContextKeyPAT    = "pat"
)

// Gin is [Guard] for gin routers.
func Gin(engine *patAuth.Engine) gin.HandlerFunc {
	return ginGuard(engine, false)
}

// GinRequire is [Require] for gin routers.
func GinRequire(engine *patAuth.Engine) gin.HandlerFunc {
	return ginGuard(engine, true)
}

func ginGuard(engine *patAuth.Engine, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			Abort(c, http.StatusUnauthorized, CodeAuthentication, msgAuthFailed)
			return
		}

		c.Request = c.Request.WithContext(patAuth.WithRequestGuard(c.Request.Context()))
		res := engine.AuthenticateRequest(c.Request)

		switch res.State {
		case patAuth.AuthRejected:
			status, code, msg := Rejection(res.Err)
			Abort(c, status, code, msg)
			return
		case patAuth.AuthPassThrough:
			if required {
				Abort(c, http.StatusUnauthorized, CodeNoAuthHeader, msgNoAuthHeader)
				return
			}
			c.Next()
			return
		}

		c.Set(ContextKeyAuth, &res)
		c.Set(ContextKeyUserID, res.User.ID)
		c.Set(ContextKeyPAT, res.PAT)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), authResultContextKey{}, &res))
		c.Next()
	}
}

// CurrentAuth returns the authentication result of c, if any.
func CurrentAuth(c *gin.Context) (*patAuth.AuthResult, bool) {
	v, ok := c.Get(ContextKeyAuth)
	if !ok {
		return nil, false
	}
	res, ok := v.(*patAuth.AuthResult)
	return res, ok
}

// CurrentUserID extracts the authenticated user id from c.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// CurrentPAT extracts the PAT of the authenticated session from c.
func CurrentPAT(c *gin.Context) string {
	return c.GetString(ContextKeyPAT)
}

// Abort ends the request with an [ErrorBody].
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Code: code, Message: message, Status: status})
}
