package flows

import (
	"context"

	"github.com/MrEthical07/patAuth/session"
)

type LogoutSessionStore interface {
	Delete(ctx context.Context, uid, pat string) (bool, error)
	DeleteAll(ctx context.Context, uid string) (session.DeleteReport, error)
}

// LogoutDeps captures revocation dependencies.
type LogoutDeps struct {
	// Allow consults the revocation policy for a lifecycle event. Nil allows.
	Allow        func(ctx context.Context, uid, event string) bool
	SessionStore LogoutSessionStore
}

// RevokeResult reports a lifecycle revocation.
type RevokeResult struct {
	Skipped bool
	Report  session.DeleteReport
	Err     error
}

func RunLogout(ctx context.Context, uid, pat string, deps LogoutDeps) (bool, error) {
	return deps.SessionStore.Delete(ctx, uid, pat)
}

func RunLogoutAll(ctx context.Context, uid string, deps LogoutDeps) (session.DeleteReport, error) {
	return deps.SessionStore.DeleteAll(ctx, uid)
}

// RunRevokeOnEvent destroys every session of uid in response to a lifecycle
// event unless the policy declines.
func RunRevokeOnEvent(ctx context.Context, uid, event string, deps LogoutDeps) RevokeResult {
	if deps.Allow != nil && !deps.Allow(ctx, uid, event) {
		return RevokeResult{Skipped: true}
	}
	report, err := deps.SessionStore.DeleteAll(ctx, uid)
	return RevokeResult{Report: report, Err: err}
}
