package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/patAuth/session"
)

// maxRefreshAttempts bounds refresh token regeneration on collision.
const maxRefreshAttempts = 3

type IssueRefreshSessionStore interface {
	LinkRefresh(ctx context.Context, uid, pat, token string, exp int64) error
}

// IssueRefreshDeps captures refresh-token minting dependencies.
type IssueRefreshDeps struct {
	Now          func() time.Time
	RefreshTTL   func() time.Duration
	NewToken     func() (string, error)
	SessionStore IssueRefreshSessionStore
}

// IssueRefreshResult carries the linked refresh token and its expiration.
type IssueRefreshResult struct {
	Token     string
	ExpiresAt int64
	Err       error
}

// RunIssueRefresh mints a refresh token and links it to pat. A token already
// linked to pat is replaced.
func RunIssueRefresh(ctx context.Context, uid, pat string, deps IssueRefreshDeps) IssueRefreshResult {
	exp := deps.Now().Add(deps.RefreshTTL()).Unix()

	var lastErr error
	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		token, err := deps.NewToken()
		if err != nil {
			return IssueRefreshResult{Err: err}
		}
		err = deps.SessionStore.LinkRefresh(ctx, uid, pat, token, exp)
		if err == nil {
			return IssueRefreshResult{Token: token, ExpiresAt: exp}
		}
		if !errors.Is(err, session.ErrRefreshCollision) {
			return IssueRefreshResult{Err: err}
		}
		lastErr = err
	}
	return IssueRefreshResult{Err: lastErr}
}

// RotateFailureKind classifies refresh-grant failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureNotFound
	RotateFailureExpired
	RotateFailureStore
	RotateFailureUnknownUser
	RotateFailureDirectory
	RotateFailureIssue
	RotateFailureIssueRefresh
)

// RotateInput is one refresh grant.
type RotateInput struct {
	RefreshToken string
	IP           string
	Device       string
}

// RotateResult carries the new token pair or failure metadata.
type RotateResult struct {
	Failure      RotateFailureKind
	Err          error
	Consumed     *session.RefreshBinding
	User         Identity
	Issued       IssueResult
	RefreshToken string
}

type RotateSessionStore interface {
	LookupRefresh(ctx context.Context, token string) (*session.RefreshBinding, error)
	ConsumeRefresh(ctx context.Context, token string, now int64) (*session.RefreshBinding, error)
}

// RotateDeps captures refresh-grant dependencies.
type RotateDeps struct {
	Now          func() time.Time
	ResolveUser  func(context.Context, string) (Identity, error)
	UserNotFound error
	SessionStore RotateSessionStore
	Issue        IssueDeps
	IssueRefresh IssueRefreshDeps
}

// RunRotate consumes a refresh token, destroying its PAT in the same script,
// and issues a fresh access token with a fresh refresh token linked to it.
// Concurrent calls with one token have exactly one winner.
//
// The bound user is resolved before the token is consumed, so a directory
// outage leaves the grant and its session intact for a retry.
func RunRotate(ctx context.Context, in RotateInput, deps RotateDeps) RotateResult {
	now := deps.Now().Unix()

	peek, err := deps.SessionStore.LookupRefresh(ctx, in.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrRefreshNotFound) {
			return RotateResult{Failure: RotateFailureNotFound, Err: err}
		}
		return RotateResult{Failure: RotateFailureStore, Err: err}
	}

	var user Identity
	var resolveErr error
	if !peek.Expired(now) {
		user, resolveErr = deps.ResolveUser(ctx, peek.UserID)
		unknown := deps.UserNotFound != nil && errors.Is(resolveErr, deps.UserNotFound)
		if resolveErr != nil && !unknown {
			return RotateResult{Failure: RotateFailureDirectory, Err: resolveErr, Consumed: peek}
		}
	}

	binding, err := deps.SessionStore.ConsumeRefresh(ctx, in.RefreshToken, now)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshNotFound):
			return RotateResult{Failure: RotateFailureNotFound, Err: err}
		case errors.Is(err, session.ErrRefreshExpired):
			return RotateResult{Failure: RotateFailureExpired, Err: err, Consumed: binding}
		default:
			return RotateResult{Failure: RotateFailureStore, Err: err}
		}
	}
	if resolveErr != nil {
		return RotateResult{Failure: RotateFailureUnknownUser, Err: resolveErr, Consumed: binding}
	}

	issued := RunIssue(ctx, IssueInput{User: user, IP: in.IP, Device: in.Device}, deps.Issue)
	if issued.Failure != IssueFailureNone {
		return RotateResult{Failure: RotateFailureIssue, Err: issued.Err, Consumed: binding, User: user, Issued: issued}
	}

	refresh := RunIssueRefresh(ctx, user.ID, issued.PAT, deps.IssueRefresh)
	if refresh.Err != nil {
		return RotateResult{Failure: RotateFailureIssueRefresh, Err: refresh.Err, Consumed: binding, User: user, Issued: issued}
	}

	return RotateResult{
		Consumed:     binding,
		User:         user,
		Issued:       issued,
		RefreshToken: refresh.Token,
	}
}
