package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	patAuth "github.com/MrEthical07/patAuth"
)

type stubDirectory struct {
	users map[string]patAuth.User
	fail  error
}

func (d *stubDirectory) FindByID(_ context.Context, id string) (patAuth.User, error) {
	if d.fail != nil {
		return patAuth.User{}, d.fail
	}
	u, ok := d.users[id]
	if !ok {
		return patAuth.User{}, patAuth.ErrUserNotFound
	}
	return u, nil
}

func (d *stubDirectory) FindByLogin(ctx context.Context, login string) (patAuth.User, error) {
	for _, u := range d.users {
		if u.Username == login {
			return u, nil
		}
	}
	return patAuth.User{}, patAuth.ErrUserNotFound
}

func (d *stubDirectory) FindByEmail(context.Context, string) (patAuth.User, error) {
	return patAuth.User{}, patAuth.ErrUserNotFound
}

func (d *stubDirectory) VerifyCredentials(context.Context, string, string) (patAuth.User, error) {
	return patAuth.User{}, patAuth.ErrInvalidCredentials
}

func newEngine(t *testing.T, mutate func(*patAuth.Config)) (*patAuth.Engine, *stubDirectory) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := patAuth.DefaultConfig()
	cfg.JWT.SigningKey = []byte("middleware-test-key-0123456789abcdef")
	cfg.JWT.Issuer = "https://shop.example"
	if mutate != nil {
		mutate(&cfg)
	}

	dir := &stubDirectory{users: map[string]patAuth.User{"42": {ID: "42", Username: "alice"}}}
	engine, err := patAuth.New().WithConfig(cfg).WithRedis(rdb).WithUserDirectory(dir).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return engine, dir
}

// issueFor mints a token bound to the context httptest requests carry.
func issueFor(t *testing.T, engine *patAuth.Engine) patAuth.IssuedToken {
	t.Helper()
	tok, err := engine.IssueToken(context.Background(), "42", patAuth.ClientContext{IP: "192.0.2.1", Device: "test-agent"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func newRequest(authorization string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("User-Agent", "test-agent")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestGuardStates(t *testing.T) {
	engine, _ := newEngine(t, nil)
	tok := issueFor(t, engine)

	var seen *patAuth.AuthResult
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AuthResultFromContext(r.Context())
		// A second authentication in the handler reuses the guard outcome.
		again := engine.AuthenticateRequest(r)
		if seen != nil && again.PAT != seen.PAT {
			t.Errorf("guard outcome not reused")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name     string
		handler  http.Handler
		header   string
		status   int
		authed   bool
		wantCode string
	}{
		{name: "guard no header", handler: Guard(engine)(next), status: http.StatusNoContent},
		{name: "guard basic", handler: Guard(engine)(next), header: "Basic Zm9vOmJhcg==", status: http.StatusNoContent},
		{name: "guard valid", handler: Guard(engine)(next), header: "Bearer " + tok.Token, status: http.StatusNoContent, authed: true},
		{name: "guard garbage", handler: Guard(engine)(next), header: "Bearer nope", status: http.StatusUnauthorized, wantCode: CodeBadAuthHeader},
		{name: "require no header", handler: Require(engine)(next), status: http.StatusUnauthorized, wantCode: CodeNoAuthHeader},
		{name: "require valid", handler: Require(engine)(next), header: "Bearer " + tok.Token, status: http.StatusNoContent, authed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			rec := httptest.NewRecorder()
			tc.handler.ServeHTTP(rec, newRequest(tc.header))

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if tc.wantCode != "" {
				if body := decodeError(t, rec); body.Code != tc.wantCode || body.Status != tc.status {
					t.Fatalf("unexpected error body %+v", body)
				}
			}
			if tc.authed && (seen == nil || seen.User.ID != "42") {
				t.Fatalf("expected auth result in context, got %+v", seen)
			}
			if !tc.authed && seen != nil {
				t.Fatalf("unexpected auth result %+v", seen)
			}
		})
	}
}

func TestGuardDirectoryOutageIs503(t *testing.T) {
	engine, dir := newEngine(t, nil)
	tok := issueFor(t, engine)
	dir.fail = errors.New("connection reset")

	rec := httptest.NewRecorder()
	Guard(engine)(http.NotFoundHandler()).ServeHTTP(rec, newRequest("Bearer "+tok.Token))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeDirectoryDown {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestGuardNilEngine(t *testing.T) {
	rec := httptest.NewRecorder()
	Guard(nil)(http.NotFoundHandler()).ServeHTTP(rec, newRequest(""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGinGuardSetsContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine, _ := newEngine(t, nil)
	tok := issueFor(t, engine)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", GinRequire(engine), func(c *gin.Context) {
		res, ok := CurrentAuth(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": CurrentUserID(c), "pat": CurrentPAT(c), "id": res.User.ID})
	})
	r.GET("/open", Gin(engine), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUserID(c))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, newRequest("Bearer "+tok.Token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["user_id"] != "42" || body["pat"] != tok.PAT || body["id"] != "42" {
		t.Fatalf("unexpected body %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, newRequest(""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rec.Code)
	}

	req := newRequest("")
	req.URL.Path = "/open"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "" {
		t.Fatalf("expected anonymous 200, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequestIDKeepsValidIncomingID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextKeyRequestID)) })

	const id = "3f0c1a52-9f0e-4a4c-8d55-1a0d2c4e6b7f"
	req := newRequest("")
	req.Header.Set("X-Request-ID", id)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != id || rec.Header().Get("X-Request-ID") != id {
		t.Fatalf("expected id to be kept, got %q", rec.Body.String())
	}

	req = newRequest("")
	req.Header.Set("X-Request-ID", "<script>")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() == "<script>" {
		t.Fatal("malformed id must be replaced")
	}
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine, _ := newEngine(t, func(cfg *patAuth.Config) {
		cfg.RateLimit.Policies = []patAuth.RateLimitPolicy{{Route: patAuth.RouteLogin, Limit: 2, Window: 30 * time.Second}}
	})

	r := gin.New()
	r.POST("/login", RateLimit(engine, patAuth.RouteLogin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected Retry-After 30, got %q", got)
	}
	if body := decodeError(t, rec); body.Code != CodeRateLimited {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRejectionMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: &patAuth.AuthError{Reason: patAuth.ErrExpired}, status: http.StatusUnauthorized, code: CodeAuthentication},
		{err: &patAuth.AuthError{Reason: patAuth.ErrMalformedToken}, status: http.StatusUnauthorized, code: CodeBadAuthHeader},
		{err: &patAuth.AuthError{Reason: patAuth.ErrDirectoryUnavailable}, status: http.StatusServiceUnavailable, code: CodeDirectoryDown},
		{err: &patAuth.AuthError{Reason: patAuth.ErrRedisUnavailable}, status: http.StatusServiceUnavailable, code: CodeUnavailable},
		{err: &patAuth.AuthError{Reason: patAuth.ErrConfig}, status: http.StatusUnauthorized, code: CodeAuthentication},
	}
	for _, tc := range cases {
		if status, code, _ := Rejection(tc.err); status != tc.status || code != tc.code {
			t.Fatalf("%v: expected %d %s, got %d %s", tc.err, tc.status, tc.code, status, code)
		}
	}
}
