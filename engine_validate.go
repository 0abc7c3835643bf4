package patAuth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/internal"
	"github.com/MrEthical07/patAuth/internal/flows"
)

// ValidateToken runs the full validation order on token: header, signature,
// expiry, issuer, subject, user lookup, client context and session
// membership. The first failing step wins and is returned as an
// [*AuthError].
func (e *Engine) ValidateToken(ctx context.Context, token string, cc ClientContext) (AuthResult, error) {
	if e == nil || !e.flows.Initialized() {
		return AuthResult{}, ErrEngineNotReady
	}
	cc = e.clientContext(ctx, cc)

	start := time.Now()
	res := e.flows.Validate(ctx, flows.ValidateInput{Token: token, IP: cc.IP, Device: cc.Device})
	e.observeValidate(start)

	if res.Failure != flows.ValidateFailureNone {
		result := e.rejected(ctx, token, cc, res)
		return result, result.Err
	}
	return e.accepted(ctx, token, cc, res), nil
}

// Authenticate resolves an Authorization header value to one of three
// states. A missing or non-Bearer header passes through; a Bearer credential
// is either authenticated, recording its usage, or rejected.
//
// When ctx carries a guard from [WithRequestGuard], only the first call does
// any work; later calls return the same result.
func (e *Engine) Authenticate(ctx context.Context, authorization string, cc ClientContext) AuthResult {
	if e == nil || !e.flows.Initialized() {
		return AuthResult{State: AuthRejected, Err: authFailed(ErrEngineNotReady)}
	}
	if g := requestGuardFrom(ctx); g != nil {
		g.once.Do(func() {
			g.result = e.authenticate(ctx, authorization, cc)
		})
		return g.result
	}
	return e.authenticate(ctx, authorization, cc)
}

// AuthenticateRequest is [Engine.Authenticate] for an incoming HTTP request.
func (e *Engine) AuthenticateRequest(r *http.Request) AuthResult {
	return e.Authenticate(r.Context(), r.Header.Get("Authorization"), e.ClientContextFromRequest(r))
}

// ClientContextFromRequest extracts the caller IP and device value from r
// using the configured device headers.
func (e *Engine) ClientContextFromRequest(r *http.Request) ClientContext {
	return ClientContext{
		IP:     internal.ClientIP(r, e.config.DeviceBinding.TrustForwardedFor),
		Device: internal.ResolveDevice(r.Header, e.config.DeviceBinding.DeviceHeaders),
	}
}

// RecordUsage bumps the last-used time of the session token belongs to. A
// session that no longer exists is left alone.
func (e *Engine) RecordUsage(ctx context.Context, token string) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	m, err := e.manager()
	if err != nil {
		return err
	}
	claims, err := m.ParseAccess(stripBearer(token))
	if err != nil {
		return authFailed(err)
	}
	e.touch(ctx, claims.Data.User.ID, claims.Data.User.PAT)
	return nil
}

func (e *Engine) authenticate(ctx context.Context, authorization string, cc ClientContext) AuthResult {
	cc = e.clientContext(ctx, cc)

	start := time.Now()
	res := e.flows.Authenticate(ctx, flows.AuthenticateInput{
		Authorization: authorization,
		IP:            cc.IP,
		Device:        cc.Device,
	})

	switch res.State {
	case flows.AuthPassThrough:
		return AuthResult{State: AuthPassThrough}
	case flows.AuthRejected:
		e.observeValidate(start)
		return e.rejected(ctx, res.Token, cc, res.Validation)
	default:
		e.observeValidate(start)
		return e.accepted(ctx, res.Token, cc, res.Validation)
	}
}

func (e *Engine) accepted(ctx context.Context, token string, cc ClientContext, res flows.ValidateResult) AuthResult {
	e.metricInc(MetricValidateSuccess)
	pat := res.Claims.Data.User.PAT
	e.emitAudit(ctx, auditRecord{eventType: EventTokenValidated, success: true, userID: res.User.ID, pat: pat, client: cc}, nil)
	return AuthResult{
		State:  AuthAuthenticated,
		User:   fromIdentity(res.User),
		PAT:    pat,
		Token:  token,
		Claims: res.Claims,
	}
}

func (e *Engine) rejected(ctx context.Context, token string, cc ClientContext, res flows.ValidateResult) AuthResult {
	e.metricInc(MetricValidateFailure)

	reason := res.Err
	switch res.Failure {
	case flows.ValidateFailureUnknownUser:
		reason = errors.Join(ErrUnknownUser, res.Err)
	case flows.ValidateFailureContext:
		e.metricInc(MetricContextMismatch)
	case flows.ValidateFailureRevoked:
		e.metricInc(MetricSessionRevoked)
	}

	var userID, pat string
	if res.Claims != nil {
		userID = res.Claims.Data.User.ID
		pat = res.Claims.Data.User.PAT
	}

	code := reasonCode(reason)
	if errors.Is(reason, ErrConfig) {
		e.logger.Error("token validation unavailable", zap.String("reason", code), zap.Error(reason))
	} else {
		e.logger.Info("token rejected",
			zap.String("reason", code),
			zap.String("pat", pat),
			zap.String("user_id", userID),
		)
	}
	e.emitAudit(ctx, auditRecord{eventType: EventTokenValidated, userID: userID, pat: pat, client: cc, err: reason}, nil)

	return AuthResult{
		State:  AuthRejected,
		User:   fromIdentity(res.User),
		PAT:    pat,
		Token:  token,
		Claims: res.Claims,
		Err:    authFailed(reason),
	}
}

func (e *Engine) touch(ctx context.Context, uid, pat string) {
	if uid == "" || pat == "" {
		return
	}
	if _, err := e.sessionStore.Touch(ctx, uid, pat, e.now().Unix()); err != nil {
		e.logger.Warn("record usage failed", zap.String("user_id", uid), zap.String("pat", pat), zap.Error(err))
	}
}

func (e *Engine) observeValidate(start time.Time) {
	if e.metrics != nil {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
}
