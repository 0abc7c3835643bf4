package patAuth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func issuePair(t *testing.T, env *testEnv) (IssuedToken, string) {
	t.Helper()
	tok := env.issue(t, "42", aliceCtx)
	refresh, err := env.engine.IssueRefreshToken(context.Background(), "42", tok.PAT)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	return tok, refresh
}

func TestRotateSessionReplacesPAT(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	tok, refresh := issuePair(t, env)

	pair, err := env.engine.RotateSession(ctx, refresh, aliceCtx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if pair.PAT == tok.PAT || pair.RefreshToken == refresh || pair.UserID != "42" {
		t.Fatalf("rotation must mint a new pair, got %+v", pair)
	}

	if _, err := env.engine.ValidateToken(ctx, tok.Token, aliceCtx); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old token must be revoked, got %v", err)
	}
	if _, err := env.engine.ValidateToken(ctx, pair.Token, aliceCtx); err != nil {
		t.Fatalf("new token must validate: %v", err)
	}
	if _, err := env.engine.RotateSession(ctx, refresh, aliceCtx); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("reused refresh must fail, got %v", err)
	}
	if uid, err := env.engine.ValidateRefreshToken(ctx, pair.RefreshToken); err != nil || uid != "42" {
		t.Fatalf("validate new refresh: uid=%q err=%v", uid, err)
	}
}

func TestRotateSessionAfterAccessExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	_, refresh := issuePair(t, env)

	env.advance(11 * 24 * time.Hour)
	pair, err := env.engine.RotateSession(context.Background(), refresh, aliceCtx)
	if err != nil {
		t.Fatalf("refresh must outlive the access token: %v", err)
	}
	if _, err := env.engine.ValidateToken(context.Background(), pair.Token, aliceCtx); err != nil {
		t.Fatalf("rotated token must validate: %v", err)
	}
}

func TestRotateSessionConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	_, refresh := issuePair(t, env)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		invalids int
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.RotateSession(context.Background(), refresh, aliceCtx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrInvalidRefreshToken):
				invalids++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 || invalids != workers-1 {
		t.Fatalf("expected 1 winner and %d invalid, got %d and %d", workers-1, winners, invalids)
	}
	if n, _ := env.engine.ActiveSessionCount(context.Background(), "42"); n != 1 {
		t.Fatalf("expected exactly one live session, got %d", n)
	}
}

func TestRotateSessionExpiredRefresh(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, refresh := issuePair(t, env)

	env.advance(30*24*time.Hour + time.Second)
	if _, err := env.engine.ValidateRefreshToken(ctx, refresh); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected expired on validate, got %v", err)
	}
	if _, err := env.engine.RotateSession(ctx, refresh, aliceCtx); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected expired on rotate, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshExpired]; got != 1 {
		t.Fatalf("expected one refresh_expired, got %d", got)
	}
	if _, err := env.engine.RotateSession(ctx, refresh, aliceCtx); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expired refresh is consumed, got %v", err)
	}
}

func TestRotateSessionDirectoryOutageIsRetryable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	tok, refresh := issuePair(t, env)

	env.users.fail = errors.New("db down")
	if _, err := env.engine.RotateSession(ctx, refresh, aliceCtx); !errors.Is(err, ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
	env.users.fail = nil

	if uid, err := env.engine.ValidateRefreshToken(ctx, refresh); err != nil || uid != "42" {
		t.Fatalf("refresh must survive the outage: uid=%q err=%v", uid, err)
	}
	if res := env.engine.Authenticate(ctx, "Bearer "+tok.Token, aliceCtx); res.State != AuthAuthenticated {
		t.Fatalf("access session must survive the outage, got %v (%v)", res.State, res.Err)
	}

	pair, err := env.engine.RotateSession(ctx, refresh, aliceCtx)
	if err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
	if pair.PAT == tok.PAT {
		t.Fatalf("retry must mint a new PAT, got %+v", pair)
	}
	if _, err := env.engine.ValidateToken(ctx, tok.Token, aliceCtx); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old token must be revoked after rotation, got %v", err)
	}
}

func TestRotateSessionUnknownUserConsumesGrant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, refresh := issuePair(t, env)

	env.users.mu.Lock()
	delete(env.users.users, "42")
	env.users.mu.Unlock()

	_, err := env.engine.RotateSession(ctx, refresh, aliceCtx)
	if !errors.Is(err, ErrAuthFailed) || !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected unknown user, got %v", err)
	}
	if _, err := env.engine.ValidateRefreshToken(ctx, refresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("grant of a deleted user must be consumed, got %v", err)
	}
}

func TestRefreshTokenShapeChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, token := range []string{"", "abc", "ZZZZ", "0123456789abcdef"} {
		if _, err := env.engine.ValidateRefreshToken(ctx, token); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("%q: expected ErrInvalidRefreshToken, got %v", token, err)
		}
		if _, err := env.engine.RotateSession(ctx, token, aliceCtx); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("%q: expected ErrInvalidRefreshToken on rotate, got %v", token, err)
		}
	}
}

func TestIssueRefreshReplacesPreviousLink(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	tok, first := issuePair(t, env)

	second, err := env.engine.IssueRefreshToken(ctx, "42", tok.PAT)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if _, err := env.engine.ValidateRefreshToken(ctx, first); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("first refresh must be unlinked, got %v", err)
	}
	if _, err := env.engine.ValidateRefreshToken(ctx, second); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if _, err := env.engine.IssueRefreshToken(ctx, "42", "missing-pat"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRotateEmitsRefreshedEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	tok, refresh := issuePair(t, env)
	<-env.sink.Events()

	pair, err := env.engine.RotateSession(context.Background(), refresh, aliceCtx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-env.sink.Events():
			if ev.Type != EventTokenRefreshed {
				continue
			}
			if ev.PAT != pair.PAT || ev.Metadata["previous_pat"] != tok.PAT {
				t.Fatalf("unexpected refreshed event %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("expected token_refreshed event")
		}
	}
}
