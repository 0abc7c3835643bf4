package patAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/internal"
	"github.com/MrEthical07/patAuth/internal/flows"
	"github.com/MrEthical07/patAuth/session"
)

// ValidateRefreshToken reports the user a refresh token belongs to without
// consuming it.
//
// ValidateRefreshToken returns ErrInvalidRefreshToken for unknown tokens and
// ErrRefreshTokenExpired for tokens past their expiration.
func (e *Engine) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	if e == nil || !e.flows.Initialized() {
		return "", ErrEngineNotReady
	}
	token = strings.TrimSpace(token)
	if !internal.IsRefreshToken(token) {
		return "", ErrInvalidRefreshToken
	}

	binding, err := e.sessionStore.LookupRefresh(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrRefreshNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}
	if binding.Expired(e.now().Unix()) {
		return "", ErrRefreshTokenExpired
	}
	return binding.UserID, nil
}

// RotateSession exchanges a refresh token for a new token pair. The refresh
// token and the PAT it was bound to are destroyed in one atomic step, so
// concurrent calls with the same token have exactly one winner; the others
// get ErrInvalidRefreshToken.
//
//	Flow: lookup refresh -> resolve user -> consume refresh -> issue access -> link refresh
func (e *Engine) RotateSession(ctx context.Context, refreshToken string, cc ClientContext) (TokenPair, error) {
	if e == nil || !e.flows.Initialized() {
		return TokenPair{}, ErrEngineNotReady
	}
	if _, err := e.signingManager(); err != nil {
		e.logger.Error("refresh refused", zap.Error(err))
		return TokenPair{}, err
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if !internal.IsRefreshToken(refreshToken) {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, ErrInvalidRefreshToken
	}
	cc = e.clientContext(ctx, cc)

	res := e.flows.Rotate(ctx, flows.RotateInput{RefreshToken: refreshToken, IP: cc.IP, Device: cc.Device})
	if res.Failure != flows.RotateFailureNone {
		return TokenPair{}, e.rotateFailed(ctx, cc, res)
	}

	user := fromIdentity(res.User)
	e.issued(ctx, user, cc, res.Issued)
	e.metricInc(MetricRefreshSuccess)
	e.metricInc(MetricRefreshIssued)
	e.emitAudit(ctx, auditRecord{eventType: EventTokenRefreshed, success: true, userID: user.ID, pat: res.Issued.PAT, client: cc}, func() map[string]string {
		return map[string]string{"previous_pat": res.Consumed.PAT}
	})

	return TokenPair{
		Token:        res.Issued.Token,
		RefreshToken: res.RefreshToken,
		PAT:          res.Issued.PAT,
		UserID:       user.ID,
	}, nil
}

// rotateFailed maps a rotate flow failure to the returned error.
func (e *Engine) rotateFailed(ctx context.Context, cc ClientContext, res flows.RotateResult) error {
	e.metricInc(MetricRefreshFailure)

	var err error
	switch res.Failure {
	case flows.RotateFailureNotFound:
		err = ErrInvalidRefreshToken
	case flows.RotateFailureExpired:
		e.metricInc(MetricRefreshExpired)
		err = ErrRefreshTokenExpired
	case flows.RotateFailureUnknownUser:
		err = authFailed(errors.Join(ErrUnknownUser, res.Err))
	case flows.RotateFailureIssue:
		return e.issueFailed(ctx, fromIdentity(res.User), cc, res.Issued)
	case flows.RotateFailureIssueRefresh:
		err = fmt.Errorf("link refresh token: %w", res.Err)
	default:
		err = res.Err
	}

	var userID, pat string
	if res.Consumed != nil {
		userID = res.Consumed.UserID
		pat = res.Consumed.PAT
	}
	e.logger.Info("refresh rejected", zap.String("reason", reasonCode(err)), zap.String("user_id", userID), zap.String("pat", pat))
	e.emitAudit(ctx, auditRecord{eventType: EventTokenRefreshed, userID: userID, pat: pat, client: cc, err: err}, nil)
	return err
}
