package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/middleware"
)

// Handler serves the token endpoints of one engine.
type Handler struct {
	engine *patAuth.Engine
	log    *zap.Logger
}

func NewHandler(engine *patAuth.Engine) *Handler {
	return &Handler{engine: engine, log: engine.Logger().Named("rest")}
}

// RegisterRoutes mounts the endpoints on rg. Each route is rate limited by
// the engine policy of the same name.
func (h *Handler) RegisterRoutes(rg gin.IRouter) {
	authMW := middleware.GinRequire(h.engine)
	limit := func(route string) gin.HandlerFunc { return middleware.RateLimit(h.engine, route) }

	rg.POST("/refresh-token", limit(patAuth.RouteRefreshToken), h.refreshToken)
	rg.POST("/validate-token", limit(patAuth.RouteValidateToken), authMW, h.validateToken)
	rg.POST("/google-auth", limit(patAuth.RouteGoogleAuth), h.googleAuth)
	rg.GET("/google-user-info", limit(patAuth.RouteGoogleUserInfo), authMW, h.googleUserInfo)
	rg.POST("/login", limit(patAuth.RouteLogin), h.login)
	rg.POST("/logout", authMW, h.logout)
}

func (h *Handler) clientContext(c *gin.Context) patAuth.ClientContext {
	return h.engine.ClientContextFromRequest(c.Request)
}

// bind decodes an optional JSON body; an empty body leaves dst untouched.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		middleware.Abort(c, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON.")
		return false
	}
	return true
}

func (h *Handler) refreshToken(c *gin.Context) {
	var dto RefreshTokenDTO
	if !bind(c, &dto) {
		return
	}
	pair, err := h.engine.RotateSession(c.Request.Context(), dto.RefreshToken, h.clientContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenPairResponse{Token: pair.Token, RefreshToken: pair.RefreshToken})
}

func (h *Handler) validateToken(c *gin.Context) {
	c.JSON(http.StatusOK, messageResponse{Message: "Token is valid."})
}

func (h *Handler) googleAuth(c *gin.Context) {
	var dto GoogleAuthDTO
	if !bind(c, &dto) {
		return
	}
	res, err := h.engine.AuthenticateWithProvider(c.Request.Context(), dto.IDToken, h.clientContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, googleAuthResponse{
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		User: googleUser{
			ID:          res.User.ID,
			Username:    res.User.Username,
			Email:       res.User.Email,
			DisplayName: res.User.DisplayName,
			GoogleID:    res.ProviderSubject,
		},
		Message: "Successfully authenticated with Google.",
	})
}

func (h *Handler) googleUserInfo(c *gin.Context) {
	info, err := h.engine.ProviderUserInfo(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, googleUserInfoResponse{
		UserID:      info.UserID,
		Username:    info.Username,
		Email:       info.Email,
		DisplayName: info.DisplayName,
		GoogleID:    info.ProviderSubject,
		GoogleEmail: info.ProviderEmail,
		Linked:      info.Linked,
	})
}

// login is the password grant. A valid bearer for the same user keeps its
// session instead of opening a new one.
func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if !bind(c, &dto) {
		return
	}
	pair, user, err := h.engine.Login(c.Request.Context(), dto.Username, dto.Password, h.clientContext(c), c.GetHeader("Authorization"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Token:        pair.Token,
		RefreshToken: pair.RefreshToken,
		User:         loginUser{ID: user.ID, Username: user.Username},
	})
}

func (h *Handler) logout(c *gin.Context) {
	var dto LogoutDTO
	if !bind(c, &dto) {
		return
	}
	report, err := h.engine.Logout(c.Request.Context(), middleware.CurrentUserID(c), middleware.CurrentPAT(c), dto.All)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logoutResponse{
		Message:       "Logged out.",
		Tokens:        report.Tokens,
		RefreshTokens: report.RefreshTokens,
	})
}
