package patAuth

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/patAuth/federated"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memDirectory is an in-memory UserDirectory and ProviderDirectory.
type memDirectory struct {
	mu         sync.Mutex
	users      map[string]User
	passwords  map[string]string
	identities map[string]ProviderIdentity
	nextID     int
	delay      time.Duration
	fail       error
}

func newMemDirectory() *memDirectory {
	d := &memDirectory{
		users:      map[string]User{},
		passwords:  map[string]string{},
		identities: map[string]ProviderIdentity{},
		nextID:     100,
	}
	d.add(User{ID: "42", Username: "alice", Email: "alice@example.com", DisplayName: "Alice"}, "correct-password-123")
	d.add(User{ID: "43", Username: "bob", Email: "bob@example.com", DisplayName: "Bob"}, "hunter22")
	return d
}

func (d *memDirectory) add(u User, password string) {
	d.users[u.ID] = u
	d.passwords[u.ID] = password
}

func (d *memDirectory) wait() error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	return d.fail
}

func (d *memDirectory) FindByID(_ context.Context, id string) (User, error) {
	if err := d.wait(); err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (d *memDirectory) FindByLogin(_ context.Context, login string) (User, error) {
	if err := d.wait(); err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Username == login {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (d *memDirectory) FindByEmail(_ context.Context, email string) (User, error) {
	if err := d.wait(); err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (d *memDirectory) VerifyCredentials(ctx context.Context, login, password string) (User, error) {
	u, err := d.FindByLogin(ctx, login)
	if err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.passwords[u.ID] != password {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (d *memDirectory) FindByProviderSubject(_ context.Context, provider, subject string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for uid, id := range d.identities {
		if id.Subject == subject && strings.HasSuffix(uid, "/"+provider) {
			return d.users[strings.TrimSuffix(uid, "/"+provider)], nil
		}
	}
	return User{}, ErrUserNotFound
}

func (d *memDirectory) LinkProviderIdentity(_ context.Context, userID string, identity ProviderIdentity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[userID+"/"+identity.Provider] = identity
	return nil
}

func (d *memDirectory) ProviderIdentity(_ context.Context, userID, provider string) (ProviderIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.identities[userID+"/"+provider]
	if !ok {
		return ProviderIdentity{}, ErrProviderIdentityNotFound
	}
	return id, nil
}

func (d *memDirectory) CreateUser(_ context.Context, nu NewUser) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	u := User{ID: strconv.Itoa(d.nextID), Username: nu.Username, Email: nu.Email, DisplayName: nu.DisplayName}
	d.users[u.ID] = u
	d.passwords[u.ID] = nu.Password
	return u, nil
}

type stubVerifier struct {
	info *federated.TokenInfo
	err  error
}

func (v *stubVerifier) Verify(context.Context, string) (*federated.TokenInfo, error) {
	if v.err != nil {
		return nil, v.err
	}
	info := *v.info
	return &info, nil
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
	users  *memDirectory
	sink   *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningKey = testSigningKey
	cfg.JWT.Issuer = "https://shop.example"
	cfg.Directory.Timeout = 200 * time.Millisecond
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		clock: &testClock{now: time.Unix(1700000000, 0)},
		users: newMemDirectory(),
		sink:  NewChannelSink(4096),
	}
	mr.SetTime(env.clock.Now())

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(env.users).
		WithProviderDirectory(env.users).
		WithClock(env.clock).
		WithAuditSink(env.sink)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return env
}

// advance moves both the engine clock and the Redis clock.
func (env *testEnv) advance(d time.Duration) {
	env.clock.Advance(d)
	env.mr.SetTime(env.clock.Now())
}

var aliceCtx = ClientContext{IP: "1.2.3.4", Device: "UA-X"}

func (env *testEnv) issue(t *testing.T, ref string, cc ClientContext) IssuedToken {
	t.Helper()
	tok, err := env.engine.IssueToken(context.Background(), ref, cc)
	if err != nil {
		t.Fatalf("issue token for %s: %v", ref, err)
	}
	return tok
}
