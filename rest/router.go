package rest

import (
	"net/url"
	"slices"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/middleware"
)

// RouterConfig configures [NewRouter].
type RouterConfig struct {
	// BasePath prefixes every route, e.g. "/api/v1". Empty mounts at root.
	BasePath string
	// AllowedOrigins lists the CORS origins (host names, "*.example.com"
	// wildcards allowed). Empty allows any origin.
	AllowedOrigins []string
}

// NewRouter returns a gin engine serving the token endpoints with request
// ids, access logging, panic recovery and CORS.
func NewRouter(engine *patAuth.Engine, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(engine.Logger().Named("http")))
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	NewHandler(engine).RegisterRoutes(router.Group(cfg.BasePath))
	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowOriginFunc = func(string) bool { return true }
		return c
	}
	c.AllowOriginFunc = func(origin string) bool {
		host := originHost(origin)
		for _, pattern := range origins {
			if matchOrigin(pattern, host) {
				return true
			}
		}
		return false
	}
	return c
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Hostname()
}

func matchOrigin(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	host = strings.ToLower(host)
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return pattern == host
}
