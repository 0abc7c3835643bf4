package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/patAuth/session"
)

// LoginFailureKind classifies login-token failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureIssue
	LoginFailureIssueRefresh
)

// LoginInput is an authenticated user plus the bearer credential the client
// already holds, if any.
type LoginInput struct {
	User   Identity
	IP     string
	Device string
	Bearer string
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Failure      LoginFailureKind
	Err          error
	Reused       bool
	Token        string
	PAT          string
	RefreshToken string
	Issued       IssueResult
}

type LoginSessionStore interface {
	Get(ctx context.Context, uid, pat string) (*session.Record, error)
	LookupRefresh(ctx context.Context, token string) (*session.RefreshBinding, error)
}

// LoginDeps captures login-token dependencies.
type LoginDeps struct {
	Now          func() time.Time
	Validate     ValidateDeps
	SessionStore LoginSessionStore
	Issue        IssueDeps
	IssueRefresh IssueRefreshDeps
}

// RunLoginTokens returns a token pair for user. A bearer that is still valid
// for the same user keeps its PAT and refresh token; a refresh token is only
// minted when that PAT has no usable one.
func RunLoginTokens(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	if in.Bearer != "" {
		if res, ok := reuseSession(ctx, in, deps); ok {
			return res
		}
	}

	issued := RunIssue(ctx, IssueInput{User: in.User, IP: in.IP, Device: in.Device}, deps.Issue)
	if issued.Failure != IssueFailureNone {
		return LoginResult{Failure: LoginFailureIssue, Err: issued.Err, Issued: issued}
	}
	refresh := RunIssueRefresh(ctx, in.User.ID, issued.PAT, deps.IssueRefresh)
	if refresh.Err != nil {
		return LoginResult{Failure: LoginFailureIssueRefresh, Err: refresh.Err, Token: issued.Token, PAT: issued.PAT, Issued: issued}
	}
	return LoginResult{
		Token:        issued.Token,
		PAT:          issued.PAT,
		RefreshToken: refresh.Token,
		Issued:       issued,
	}
}

func reuseSession(ctx context.Context, in LoginInput, deps LoginDeps) (LoginResult, bool) {
	res := RunValidate(ctx, ValidateInput{Token: in.Bearer, IP: in.IP, Device: in.Device}, deps.Validate)
	if res.Failure != ValidateFailureNone || res.Claims.Data.User.ID != in.User.ID {
		return LoginResult{}, false
	}

	pat := res.Claims.Data.User.PAT
	rec, err := deps.SessionStore.Get(ctx, in.User.ID, pat)
	if err != nil {
		return LoginResult{}, false
	}
	token := rec.Token
	if token == "" {
		token = in.Bearer
	}

	if rec.RefreshToken != "" {
		binding, err := deps.SessionStore.LookupRefresh(ctx, rec.RefreshToken)
		if err == nil && binding.PAT == pat && !binding.Expired(deps.Now().Unix()) {
			return LoginResult{Reused: true, Token: token, PAT: pat, RefreshToken: rec.RefreshToken}, true
		}
	}

	refresh := RunIssueRefresh(ctx, in.User.ID, pat, deps.IssueRefresh)
	if refresh.Err != nil {
		return LoginResult{Failure: LoginFailureIssueRefresh, Err: refresh.Err, Reused: true, Token: token, PAT: pat}, true
	}
	return LoginResult{Reused: true, Token: token, PAT: pat, RefreshToken: refresh.Token}, true
}
