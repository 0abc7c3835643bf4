package patAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/internal/flows"
)

// IssueToken mints an access token for the user referenced by userRef (an
// id, an email or a login, tried in that order) and appends it to the user's
// session set. The oldest sessions are evicted when the cap is reached.
//
// An unknown user yields an [*AuthError] wrapping [ErrUnknownUser].
func (e *Engine) IssueToken(ctx context.Context, userRef string, cc ClientContext) (IssuedToken, error) {
	if e == nil || !e.flows.Initialized() {
		return IssuedToken{}, ErrEngineNotReady
	}
	if _, err := e.signingManager(); err != nil {
		e.logger.Error("token issue refused", zap.Error(err))
		return IssuedToken{}, err
	}

	user, err := e.findUserByRef(ctx, userRef)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricTokenIssueFailure)
			return IssuedToken{}, authFailed(fmt.Errorf("%w: %s", ErrUnknownUser, userRef))
		}
		return IssuedToken{}, err
	}

	issued, _, err := e.issueFor(ctx, user, e.clientContext(ctx, cc))
	return issued, err
}

// IssueRefreshToken mints a refresh token and links it to pat, replacing any
// refresh token the PAT already had.
func (e *Engine) IssueRefreshToken(ctx context.Context, userID, pat string) (string, error) {
	if e == nil || !e.flows.Initialized() {
		return "", ErrEngineNotReady
	}
	res := e.flows.IssueRefresh(ctx, userID, pat)
	if res.Err != nil {
		e.logger.Warn("refresh token issue failed", zap.String("user_id", userID), zap.String("pat", pat), zap.Error(res.Err))
		return "", res.Err
	}
	e.metricInc(MetricRefreshIssued)
	return res.Token, nil
}

// IssueLoginTokens returns a token pair for an authenticated user. When
// bearer is a token still valid for the same user, its PAT and refresh token
// are kept and Reused is set on the result.
func (e *Engine) IssueLoginTokens(ctx context.Context, user User, cc ClientContext, bearer string) (TokenPair, error) {
	if e == nil || !e.flows.Initialized() {
		return TokenPair{}, ErrEngineNotReady
	}
	if _, err := e.signingManager(); err != nil {
		e.logger.Error("login token issue refused", zap.Error(err))
		return TokenPair{}, err
	}
	cc = e.clientContext(ctx, cc)

	res := e.flows.LoginTokens(ctx, flows.LoginInput{
		User:   toIdentity(user),
		IP:     cc.IP,
		Device: cc.Device,
		Bearer: stripBearer(bearer),
	})
	if res.Failure != flows.LoginFailureNone {
		if res.Failure == flows.LoginFailureIssue {
			return TokenPair{}, e.issueFailed(ctx, user, cc, res.Issued)
		}
		e.logger.Warn("refresh token issue failed", zap.String("user_id", user.ID), zap.String("pat", res.PAT), zap.Error(res.Err))
		return TokenPair{}, res.Err
	}

	if !res.Reused {
		e.issued(ctx, user, cc, res.Issued)
	}
	e.metricInc(MetricRefreshIssued)

	return TokenPair{
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		PAT:          res.PAT,
		UserID:       user.ID,
		Reused:       res.Reused,
	}, nil
}

// Login verifies a password grant against the user directory and returns a
// token pair. Every credential failure is an [*AuthError].
func (e *Engine) Login(ctx context.Context, login, password string, cc ClientContext, bearer string) (TokenPair, User, error) {
	if e == nil || !e.flows.Initialized() {
		return TokenPair{}, User{}, ErrEngineNotReady
	}
	if strings.TrimSpace(login) == "" || password == "" {
		return TokenPair{}, User{}, authFailed(ErrInvalidCredentials)
	}

	user, err := directoryCall(e, ctx, func(ctx context.Context) (User, error) {
		return e.users.VerifyCredentials(ctx, login, password)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrUserNotFound) {
			e.logger.Info("login rejected", zap.String("login", login), zap.String("reason", "invalid_credentials"))
			return TokenPair{}, User{}, authFailed(ErrInvalidCredentials)
		}
		return TokenPair{}, User{}, err
	}

	pair, err := e.IssueLoginTokens(ctx, user, cc, bearer)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, user, nil
}

func (e *Engine) issueFor(ctx context.Context, user User, cc ClientContext) (IssuedToken, flows.IssueResult, error) {
	res := e.flows.Issue(ctx, flows.IssueInput{User: toIdentity(user), IP: cc.IP, Device: cc.Device})
	if res.Failure != flows.IssueFailureNone {
		return IssuedToken{}, res, e.issueFailed(ctx, user, cc, res)
	}
	e.issued(ctx, user, cc, res)
	return issuedToken(user.ID, res), res, nil
}

func issuedToken(userID string, res flows.IssueResult) IssuedToken {
	return IssuedToken{
		Token:     res.Token,
		PAT:       res.PAT,
		UserID:    userID,
		IssuedAt:  time.Unix(res.Claims.IssuedAt, 0),
		ExpiresAt: time.Unix(res.Claims.ExpiresAt, 0),
		Evicted:   res.Evicted,
	}
}

func (e *Engine) issued(ctx context.Context, user User, cc ClientContext, res flows.IssueResult) {
	e.metricInc(MetricTokenIssued)
	e.metricAdd(MetricSessionEvicted, res.Evicted)
	if res.Evicted > 0 {
		e.logger.Debug("sessions evicted", zap.String("user_id", user.ID), zap.Int("count", res.Evicted))
	}
	e.emitAudit(ctx, auditRecord{eventType: EventTokenGenerated, success: true, userID: user.ID, pat: res.PAT, client: cc}, nil)
}

// issueFailed maps an issue flow failure to the returned error.
func (e *Engine) issueFailed(ctx context.Context, user User, cc ClientContext, res flows.IssueResult) error {
	e.metricInc(MetricTokenIssueFailure)

	var err error
	switch res.Failure {
	case flows.IssueFailureLoad:
		err = res.Err
	case flows.IssueFailureEnrich:
		err = fmt.Errorf("claim enricher: %w", res.Err)
	case flows.IssueFailureClaims, flows.IssueFailureSign:
		err = res.Err
	case flows.IssueFailurePATID, flows.IssueFailurePersist, flows.IssueFailureCollision:
		err = errors.Join(ErrSessionCreationFailed, res.Err)
	default:
		err = errors.Join(ErrSessionCreationFailed, res.Err)
	}

	if errors.Is(err, ErrConfig) {
		e.logger.Error("token issue failed", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		e.logger.Warn("token issue failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	e.emitAudit(ctx, auditRecord{eventType: EventTokenGenerated, userID: user.ID, pat: res.PAT, client: cc, err: err}, nil)
	return err
}

// clientContext fills empty fields of cc from ctx.
func (e *Engine) clientContext(ctx context.Context, cc ClientContext) ClientContext {
	fromCtx := ClientContextFrom(ctx)
	if cc.IP == "" {
		cc.IP = fromCtx.IP
	}
	if cc.Device == "" {
		cc.Device = fromCtx.Device
	}
	return cc
}

// stripBearer accepts either a raw token or a full Authorization value.
func stripBearer(v string) string {
	if token, ok := flows.ParseBearer(v); ok {
		return token
	}
	return strings.TrimSpace(v)
}
