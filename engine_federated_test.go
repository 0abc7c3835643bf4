package patAuth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/patAuth/federated"
)

const testClientID = "client-123.apps.example"

func newFederatedEnv(t *testing.T, info *federated.TokenInfo, allowRegistration bool) (*testEnv, *stubVerifier) {
	t.Helper()
	v := &stubVerifier{info: info}
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Federated.Enabled = true
		cfg.Federated.ClientID = testClientID
		cfg.Federated.AllowRegistration = allowRegistration
	}, func(b *Builder) { b.WithVerifier(v) })
	return env, v
}

func providerInfo(env *testEnv, subject, email string) *federated.TokenInfo {
	return &federated.TokenInfo{
		Subject:       subject,
		Audience:      testClientID,
		Issuer:        "accounts.google.com",
		Email:         email,
		EmailVerified: true,
		GivenName:     "Carol",
		FamilyName:    "Danvers",
		ExpiresAt:     env.clock.Now().Add(time.Hour).Unix(),
	}
}

func TestFederatedLinksExistingUserByEmail(t *testing.T) {
	env, v := newFederatedEnv(t, nil, false)
	v.info = providerInfo(env, "g-alice", "alice@example.com")
	ctx := context.Background()

	res, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx)
	if err != nil {
		t.Fatalf("federated sign-in: %v", err)
	}
	if res.User.ID != "42" || !res.Linked || res.Created || res.ProviderSubject != "g-alice" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RefreshToken == "" || res.PAT == "" {
		t.Fatalf("expected token pair, got %+v", res)
	}
	if _, err := env.engine.ValidateToken(ctx, res.Token, aliceCtx); err != nil {
		t.Fatalf("federated token must validate: %v", err)
	}

	// Second sign-in finds the user by subject.
	again, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx)
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	if again.Linked || again.Created || again.User.ID != "42" {
		t.Fatalf("expected plain lookup, got %+v", again)
	}

	info, err := env.engine.ProviderUserInfo(ctx, "42")
	if err != nil {
		t.Fatalf("provider user info: %v", err)
	}
	if info.ProviderSubject != "g-alice" || !info.Linked || info.Username != "alice" {
		t.Fatalf("unexpected user info %+v", info)
	}
}

func TestFederatedCreatesUserWhenAllowed(t *testing.T) {
	env, v := newFederatedEnv(t, nil, true)
	v.info = providerInfo(env, "g-carol", "alice@other.example")
	ctx := context.Background()

	res, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx)
	if err != nil {
		t.Fatalf("federated sign-in: %v", err)
	}
	if !res.Created || !res.Linked {
		t.Fatalf("expected created user, got %+v", res)
	}
	// "alice" is taken, so the first free suffix is used.
	if res.User.Username != "alice1" {
		t.Fatalf("expected username alice1, got %q", res.User.Username)
	}
	if res.User.DisplayName != "Carol Danvers" {
		t.Fatalf("expected display name from given and family name, got %q", res.User.DisplayName)
	}

	env.users.mu.Lock()
	pw := env.users.passwords[res.User.ID]
	env.users.mu.Unlock()
	if len(pw) != 2*federatedPasswordBytes {
		t.Fatalf("expected random hex password, got %q", pw)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricFederatedUserCreated]; got != 1 {
		t.Fatalf("expected one created user, got %d", got)
	}
}

func TestFederatedRegistrationDisabled(t *testing.T) {
	env, v := newFederatedEnv(t, nil, false)
	v.info = providerInfo(env, "g-new", "new@example.com")

	_, err := env.engine.AuthenticateWithProvider(context.Background(), "id-token", aliceCtx)
	if !errors.Is(err, ErrRegistrationDisabled) {
		t.Fatalf("expected ErrRegistrationDisabled, got %v", err)
	}
}

func TestFederatedRejectsBadProviderTokens(t *testing.T) {
	env, v := newFederatedEnv(t, nil, true)
	ctx := context.Background()

	if _, err := env.engine.AuthenticateWithProvider(ctx, "  ", aliceCtx); !errors.Is(err, ErrProviderTokenMissing) {
		t.Fatalf("expected missing token, got %v", err)
	}

	info := providerInfo(env, "g-alice", "alice@example.com")
	info.Audience = "someone-else"
	v.info = info
	if _, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx); !errors.Is(err, ErrProviderAudience) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}

	info = providerInfo(env, "g-alice", "alice@example.com")
	info.ExpiresAt = env.clock.Now().Unix()
	v.info = info
	if _, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx); !errors.Is(err, ErrProviderTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	v.err = federated.ErrInvalidToken
	if _, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx); !errors.Is(err, ErrProviderTokenInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}

	v.err = errors.New("dial tcp: connection refused")
	if _, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx); !errors.Is(err, ErrProviderVerification) {
		t.Fatalf("expected verification failure, got %v", err)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricFederatedFailure]; got != 4 {
		t.Fatalf("expected 4 federated failures, got %d", got)
	}
}

func TestFederatedNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.AuthenticateWithProvider(context.Background(), "id-token", aliceCtx); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestProviderUserInfoUnlinked(t *testing.T) {
	env, _ := newFederatedEnv(t, nil, false)

	info, err := env.engine.ProviderUserInfo(context.Background(), "43")
	if err != nil {
		t.Fatalf("provider user info: %v", err)
	}
	if info.Linked || info.ProviderSubject != "" || info.Email != "bob@example.com" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := env.engine.ProviderUserInfo(context.Background(), "999"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricDirectoryUnavailable]; got != 0 {
		t.Fatalf("a missing link is not a directory outage, got %d", got)
	}
}

func TestProviderUserInfoDirectoryDown(t *testing.T) {
	env, _ := newFederatedEnv(t, nil, false)
	env.users.fail = errors.New("db down")

	if _, err := env.engine.ProviderUserInfo(context.Background(), "43"); !errors.Is(err, ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
}

func TestFederatedUnverifiedEmailDoesNotLink(t *testing.T) {
	env, v := newFederatedEnv(t, nil, false)
	info := providerInfo(env, "g-mallory", "alice@example.com")
	info.EmailVerified = false
	v.info = info
	ctx := context.Background()

	if _, err := env.engine.AuthenticateWithProvider(ctx, "id-token", aliceCtx); !errors.Is(err, ErrRegistrationDisabled) {
		t.Fatalf("expected ErrRegistrationDisabled, got %v", err)
	}
	linked, err := env.engine.ProviderUserInfo(ctx, "42")
	if err != nil {
		t.Fatalf("provider user info: %v", err)
	}
	if linked.Linked || linked.ProviderSubject != "" {
		t.Fatalf("unverified email must not link, got %+v", linked)
	}
}

func TestFederatedUnverifiedEmailCreatesSeparateUser(t *testing.T) {
	env, v := newFederatedEnv(t, nil, true)
	info := providerInfo(env, "g-mallory", "alice@example.com")
	info.EmailVerified = false
	v.info = info

	res, err := env.engine.AuthenticateWithProvider(context.Background(), "id-token", aliceCtx)
	if err != nil {
		t.Fatalf("federated sign-in: %v", err)
	}
	if !res.Created || res.User.ID == "42" {
		t.Fatalf("expected a new user, got %+v", res)
	}
	if res.User.Email != "" {
		t.Fatalf("unverified email must not be stored, got %q", res.User.Email)
	}
}
