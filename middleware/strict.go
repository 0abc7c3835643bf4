package middleware

import (
	"net/http"

	patAuth "github.com/MrEthical07/patAuth"
)

// Require is [Guard] for routes that need an authenticated user: requests
// without a bearer credential get 401 too.
func Require(engine *patAuth.Engine) func(http.Handler) http.Handler {
	return guard(engine, true)
}
