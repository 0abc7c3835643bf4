package patAuth

import (
	"context"

	"go.uber.org/zap"
)

// DestroySession removes one PAT with its record and linked refresh token.
// It reports whether the session existed.
func (e *Engine) DestroySession(ctx context.Context, userID, pat string) (bool, error) {
	if e == nil || !e.flows.Initialized() {
		return false, ErrEngineNotReady
	}
	if userID == "" || pat == "" {
		return false, ErrSessionNotFound
	}

	existed, err := e.flows.Logout(ctx, userID, pat)
	if err != nil {
		e.logger.Warn("session destroy failed", zap.String("user_id", userID), zap.String("pat", pat), zap.Error(err))
		return false, err
	}
	if existed {
		e.metricInc(MetricSessionDestroyed)
		e.emitAudit(ctx, auditRecord{eventType: EventTokenDeleted, success: true, userID: userID, pat: pat, client: ClientContextFrom(ctx)}, nil)
	}
	return existed, nil
}

// DestroyAllSessions clears every session and refresh token of userID.
func (e *Engine) DestroyAllSessions(ctx context.Context, userID string) (DestroyReport, error) {
	if e == nil || !e.flows.Initialized() {
		return DestroyReport{}, ErrEngineNotReady
	}
	if userID == "" {
		return DestroyReport{}, ErrUserNotFound
	}

	report, err := e.flows.LogoutAll(ctx, userID)
	if err != nil {
		e.logger.Warn("session destroy failed", zap.String("user_id", userID), zap.Error(err))
		return DestroyReport{}, err
	}
	out := DestroyReport{Tokens: report.Tokens, RefreshTokens: report.RefreshTokens}
	e.destroyedAll(ctx, userID, out, "")
	return out, nil
}

// RevokeOnEvent destroys every session of userID in response to a lifecycle
// event. When the configured [RevocationPolicy] declines, nothing is removed
// and ErrRevocationDeclined is returned.
func (e *Engine) RevokeOnEvent(ctx context.Context, userID string, event LifecycleEvent) (DestroyReport, error) {
	if e == nil || !e.flows.Initialized() {
		return DestroyReport{}, ErrEngineNotReady
	}
	if userID == "" {
		return DestroyReport{}, ErrUserNotFound
	}

	res := e.flows.RevokeOnEvent(ctx, userID, string(event))
	if res.Skipped {
		e.logger.Debug("revocation declined", zap.String("user_id", userID), zap.String("event", string(event)))
		return DestroyReport{}, ErrRevocationDeclined
	}
	if res.Err != nil {
		e.logger.Warn("revocation failed", zap.String("user_id", userID), zap.String("event", string(event)), zap.Error(res.Err))
		return DestroyReport{}, res.Err
	}
	out := DestroyReport{Tokens: res.Report.Tokens, RefreshTokens: res.Report.RefreshTokens}
	e.destroyedAll(ctx, userID, out, event)
	return out, nil
}

// Logout ends the caller's session, or every session of the caller when
// all is set. Both paths consult the revocation policy with [EventLogout].
func (e *Engine) Logout(ctx context.Context, userID, pat string, all bool) (DestroyReport, error) {
	if e == nil || !e.flows.Initialized() {
		return DestroyReport{}, ErrEngineNotReady
	}
	if all {
		return e.RevokeOnEvent(ctx, userID, EventLogout)
	}
	if !e.flowDeps.Logout.Allow(ctx, userID, string(EventLogout)) {
		return DestroyReport{}, ErrRevocationDeclined
	}
	existed, err := e.DestroySession(ctx, userID, pat)
	if err != nil {
		return DestroyReport{}, err
	}
	if !existed {
		return DestroyReport{}, nil
	}
	return DestroyReport{Tokens: 1}, nil
}

func (e *Engine) destroyedAll(ctx context.Context, userID string, report DestroyReport, event LifecycleEvent) {
	e.metricInc(MetricDestroyAll)
	e.metricAdd(MetricSessionDestroyed, report.Tokens)
	e.logger.Info("sessions destroyed",
		zap.String("user_id", userID),
		zap.String("event", string(event)),
		zap.Int("tokens", report.Tokens),
		zap.Int("refresh_tokens", report.RefreshTokens),
	)
	e.emitAudit(ctx, auditRecord{eventType: EventTokenDeleted, success: true, userID: userID, client: ClientContextFrom(ctx)}, func() map[string]string {
		md := map[string]string{"scope": "all"}
		if event != "" {
			md["event"] = string(event)
		}
		return md
	})
}
