package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/middleware"
)

const clientID = "client-1.apps.example"

type memDirectory struct {
	mu         sync.Mutex
	users      map[string]patAuth.User
	passwords  map[string]string
	identities map[string]patAuth.ProviderIdentity
	nextID     int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:      map[string]patAuth.User{"42": {ID: "42", Username: "alice", Email: "alice@example.com", DisplayName: "Alice"}},
		passwords:  map[string]string{"42": "correct-password-123"},
		identities: map[string]patAuth.ProviderIdentity{},
		nextID:     100,
	}
}

func (d *memDirectory) FindByID(_ context.Context, id string) (patAuth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return patAuth.User{}, patAuth.ErrUserNotFound
	}
	return u, nil
}

func (d *memDirectory) find(match func(patAuth.User) bool) (patAuth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if match(u) {
			return u, nil
		}
	}
	return patAuth.User{}, patAuth.ErrUserNotFound
}

func (d *memDirectory) FindByLogin(_ context.Context, login string) (patAuth.User, error) {
	return d.find(func(u patAuth.User) bool { return u.Username == login })
}

func (d *memDirectory) FindByEmail(_ context.Context, email string) (patAuth.User, error) {
	return d.find(func(u patAuth.User) bool { return strings.EqualFold(u.Email, email) })
}

func (d *memDirectory) VerifyCredentials(ctx context.Context, login, password string) (patAuth.User, error) {
	u, err := d.FindByLogin(ctx, login)
	if err != nil {
		return patAuth.User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.passwords[u.ID] != password {
		return patAuth.User{}, patAuth.ErrInvalidCredentials
	}
	return u, nil
}

func (d *memDirectory) FindByProviderSubject(_ context.Context, provider, subject string) (patAuth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for uid, id := range d.identities {
		if id.Provider == provider && id.Subject == subject {
			return d.users[uid], nil
		}
	}
	return patAuth.User{}, patAuth.ErrUserNotFound
}

func (d *memDirectory) LinkProviderIdentity(_ context.Context, userID string, identity patAuth.ProviderIdentity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[userID] = identity
	return nil
}

func (d *memDirectory) ProviderIdentity(_ context.Context, userID, provider string) (patAuth.ProviderIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.identities[userID]
	if !ok || id.Provider != provider {
		return patAuth.ProviderIdentity{}, patAuth.ErrProviderIdentityNotFound
	}
	return id, nil
}

func (d *memDirectory) CreateUser(_ context.Context, nu patAuth.NewUser) (patAuth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	u := patAuth.User{ID: strconv.Itoa(d.nextID), Username: nu.Username, Email: nu.Email, DisplayName: nu.DisplayName}
	d.users[u.ID] = u
	return u, nil
}

// tokenInfoServer answers like the Google tokeninfo endpoint: "good-<email>"
// tokens are valid for clientID, "foreign" carries another audience and
// anything else is rejected.
func tokenInfoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("id_token")
		aud := clientID
		switch {
		case tok == "foreign":
			aud = "someone-else"
		case !strings.HasPrefix(tok, "good-"):
			http.Error(w, `{"error":"invalid_token"}`, http.StatusBadRequest)
			return
		}
		email := strings.TrimPrefix(tok, "good-")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"sub":"g-%s","aud":%q,"iss":"accounts.google.com","email":%q,"email_verified":"true","given_name":"Carol","family_name":"Danvers","exp":"%d"}`,
			email, aud, email, time.Now().Add(time.Hour).Unix())
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	router *gin.Engine
	engine *patAuth.Engine
	users  *memDirectory
}

func newTestServer(t *testing.T, mutate func(*patAuth.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := patAuth.DefaultConfig()
	cfg.JWT.SigningKey = []byte("rest-test-key-0123456789abcdef!!")
	cfg.JWT.Issuer = "https://shop.example"
	cfg.RateLimit.Enabled = false
	cfg.Federated.Enabled = true
	cfg.Federated.ClientID = clientID
	cfg.Federated.AllowRegistration = true
	cfg.Federated.TokenInfoURL = tokenInfoServer(t).URL + "/tokeninfo?id_token="
	cfg.Federated.Timeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	users := newMemDirectory()
	engine, err := patAuth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(users).
		WithProviderDirectory(users).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testServer{router: NewRouter(engine, RouterConfig{}), engine: engine, users: users}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rest-test")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) middleware.ErrorBody {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[middleware.ErrorBody](t, rec)
	assert.Equal(t, code, body.Code)
	assert.Equal(t, status, body.Status)
	return body
}

func (s *testServer) login(t *testing.T) loginResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/login", "", LoginDTO{Username: "alice", Password: "correct-password-123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[loginResponse](t, rec)
}

func TestLoginValidateAndRefresh(t *testing.T) {
	s := newTestServer(t, nil)

	pair := s.login(t)
	assert.Equal(t, loginUser{ID: "42", Username: "alice"}, pair.User)
	require.NotEmpty(t, pair.Token)
	require.NotEmpty(t, pair.RefreshToken)

	rec := s.do(t, http.MethodPost, "/validate-token", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Token is valid.", decode[messageResponse](t, rec).Message)

	rec = s.do(t, http.MethodPost, "/refresh-token", "", RefreshTokenDTO{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode[tokenPairResponse](t, rec)
	assert.NotEqual(t, pair.Token, rotated.Token)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The consumed refresh token and its access token are gone.
	rec = s.do(t, http.MethodPost, "/refresh-token", "", RefreshTokenDTO{RefreshToken: pair.RefreshToken})
	body := requireError(t, rec, http.StatusUnauthorized, "invalid_refresh_token")
	assert.Equal(t, "Invalid refresh token.", body.Message)

	requireError(t, s.do(t, http.MethodPost, "/validate-token", pair.Token, nil), http.StatusUnauthorized, middleware.CodeAuthentication)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/validate-token", rotated.Token, nil).Code)
}

func TestLoginReusesBearerSession(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.login(t)

	rec := s.do(t, http.MethodPost, "/login", first.Token, LoginDTO{Username: "alice", Password: "correct-password-123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[loginResponse](t, rec)
	assert.Equal(t, first.Token, again.Token)
	assert.Equal(t, first.RefreshToken, again.RefreshToken)

	n, err := s.engine.ActiveSessionCount(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoginRejections(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/login", "", LoginDTO{Username: "alice", Password: "wrong"})
	requireError(t, rec, http.StatusUnauthorized, "invalid_credentials")

	rec = s.do(t, http.MethodPost, "/login", "", LoginDTO{Username: "nobody", Password: "x"})
	requireError(t, rec, http.StatusUnauthorized, "invalid_credentials")

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	requireError(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestRefreshTokenErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/refresh-token", "", nil)
	requireError(t, rec, http.StatusUnauthorized, "invalid_refresh_token")

	rec = s.do(t, http.MethodPost, "/refresh-token", "", RefreshTokenDTO{RefreshToken: strings.Repeat("a", 64)})
	requireError(t, rec, http.StatusUnauthorized, "invalid_refresh_token")
}

func TestValidateTokenRequiresBearer(t *testing.T) {
	s := newTestServer(t, nil)

	body := requireError(t, s.do(t, http.MethodPost, "/validate-token", "", nil), http.StatusUnauthorized, middleware.CodeNoAuthHeader)
	assert.NotEmpty(t, body.Message)
	requireError(t, s.do(t, http.MethodPost, "/validate-token", "garbage", nil), http.StatusUnauthorized, middleware.CodeBadAuthHeader)
}

func TestGoogleAuthCreatesUserAndReportsLink(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/google-auth", "", GoogleAuthDTO{IDToken: "good-carol@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[googleAuthResponse](t, rec)
	assert.Equal(t, "Successfully authenticated with Google.", res.Message)
	assert.Equal(t, "g-carol@example.com", res.User.GoogleID)
	assert.Equal(t, "carol", res.User.Username)
	assert.Equal(t, "Carol Danvers", res.User.DisplayName)
	require.NotEmpty(t, res.RefreshToken)

	rec = s.do(t, http.MethodGet, "/google-user-info", res.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[googleUserInfoResponse](t, rec)
	assert.Equal(t, res.User.ID, info.UserID)
	assert.Equal(t, "carol@example.com", info.GoogleEmail)
	assert.True(t, info.Linked)
}

func TestGoogleUserInfoUnlinked(t *testing.T) {
	s := newTestServer(t, nil)
	pair := s.login(t)

	rec := s.do(t, http.MethodGet, "/google-user-info", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[googleUserInfoResponse](t, rec)
	assert.Equal(t, "alice", info.Username)
	assert.False(t, info.Linked)
	assert.Empty(t, info.GoogleID)
}

func TestGoogleAuthErrors(t *testing.T) {
	s := newTestServer(t, nil)
	closed := newTestServer(t, func(cfg *patAuth.Config) { cfg.Federated.AllowRegistration = false })

	cases := []struct {
		name    string
		server  *testServer
		token   string
		status  int
		code    string
		message string
	}{
		{"missing", s, "", http.StatusBadRequest, "missing_id_token", "Google ID token is required."},
		{"rejected", s, "nope", http.StatusUnauthorized, "invalid_google_token", "Invalid Google ID token."},
		{"audience", s, "foreign", http.StatusUnauthorized, "invalid_audience", "Google token audience mismatch."},
		{"registration", closed, "good-dave@example.com", http.StatusForbidden, "registration_disabled", "User registration via Google is disabled."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tc.server.do(t, http.MethodPost, "/google-auth", "", GoogleAuthDTO{IDToken: tc.token})
			body := requireError(t, rec, tc.status, tc.code)
			assert.Equal(t, tc.message, body.Message)
		})
	}
}

func TestLogout(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.login(t)
	second := s.login(t)

	rec := s.do(t, http.MethodPost, "/logout", first.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[logoutResponse](t, rec).Tokens)
	requireError(t, s.do(t, http.MethodPost, "/validate-token", first.Token, nil), http.StatusUnauthorized, middleware.CodeAuthentication)

	rec = s.do(t, http.MethodPost, "/logout", second.Token, LogoutDTO{All: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[logoutResponse](t, rec)
	assert.Equal(t, 1, out.Tokens)
	assert.Equal(t, 1, out.RefreshTokens)

	n, err := s.engine.ActiveSessionCount(context.Background(), "42")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateTokenRateLimited(t *testing.T) {
	s := newTestServer(t, func(cfg *patAuth.Config) { cfg.RateLimit.Enabled = true })
	pair := s.login(t)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/validate-token", pair.Token, nil).Code)
	}
	rec := s.do(t, http.MethodPost, "/validate-token", pair.Token, nil)
	requireError(t, rec, http.StatusTooManyRequests, middleware.CodeRateLimited)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.True(t, retry >= 1 && retry <= 60, "retry after %d", retry)
}

func TestCORSOrigins(t *testing.T) {
	assert.True(t, matchOrigin("*.example.com", "app.example.com"))
	assert.False(t, matchOrigin("*.example.com", "example.com"))
	assert.True(t, matchOrigin("Shop.Example", "shop.example"))
	assert.Equal(t, "app.example.com", originHost("https://app.example.com:8443"))

	cfg := corsConfig([]string{"*.example.com"})
	assert.True(t, cfg.AllowOriginFunc("https://a.example.com"))
	assert.False(t, cfg.AllowOriginFunc("https://evil.test"))
	assert.True(t, corsConfig(nil).AllowOriginFunc("https://evil.test"))
}

func TestConfigErrorsLookLikeAuthFailures(t *testing.T) {
	cfgErr, known := classify(fmt.Errorf("%w: no signing key", patAuth.ErrConfig))
	require.True(t, known)
	authErr, _ := classify(patAuth.ErrAuthFailed)

	assert.Equal(t, authErr, cfgErr)
	assert.Equal(t, http.StatusUnauthorized, cfgErr.status)
	assert.NotContains(t, strings.ToLower(cfgErr.message), "config")
}
