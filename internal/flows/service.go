package flows

import (
	"context"

	"github.com/MrEthical07/patAuth/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.Decode != nil
}

func (s Service) Issue(ctx context.Context, in IssueInput) IssueResult {
	return RunIssue(ctx, in, s.deps.Issue)
}

func (s Service) IssueRefresh(ctx context.Context, uid, pat string) IssueRefreshResult {
	return RunIssueRefresh(ctx, uid, pat, s.deps.IssueRefresh)
}

func (s Service) Validate(ctx context.Context, in ValidateInput) ValidateResult {
	return RunValidate(ctx, in, s.deps.Validate)
}

func (s Service) Authenticate(ctx context.Context, in AuthenticateInput) AuthenticateResult {
	return RunAuthenticate(ctx, in, s.deps.Authenticate)
}

func (s Service) Rotate(ctx context.Context, in RotateInput) RotateResult {
	return RunRotate(ctx, in, s.deps.Rotate)
}

func (s Service) LoginTokens(ctx context.Context, in LoginInput) LoginResult {
	return RunLoginTokens(ctx, in, s.deps.Login)
}

func (s Service) Logout(ctx context.Context, uid, pat string) (bool, error) {
	return RunLogout(ctx, uid, pat, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, uid string) (session.DeleteReport, error) {
	return RunLogoutAll(ctx, uid, s.deps.Logout)
}

func (s Service) RevokeOnEvent(ctx context.Context, uid, event string) RevokeResult {
	return RunRevokeOnEvent(ctx, uid, event, s.deps.Logout)
}

func (s Service) Cleanup(ctx context.Context, batchSize int) CleanupResult {
	return RunCleanup(ctx, batchSize, s.deps.Cleanup)
}

func (s Service) Wipe(ctx context.Context, batchSize int) CleanupResult {
	return RunWipe(ctx, batchSize, s.deps.Cleanup)
}

func (s Service) ListSessions(ctx context.Context, in ListInput) (ListResult, error) {
	return RunListSessions(ctx, in, s.deps.Introspection)
}
