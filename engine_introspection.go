package patAuth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/patAuth/internal/flows"
	"github.com/MrEthical07/patAuth/jwt"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
	KeysLoaded     bool
}

// ListSessions returns one page of sessions, oldest first within a user and
// users in lexical order. An empty userID lists every user. page starts at 1.
//
// ListSessions exposes token material; it is meant for operator tooling.
func (e *Engine) ListSessions(ctx context.Context, userID string, page, perPage int) (SessionPage, error) {
	if e == nil || !e.flows.Initialized() {
		return SessionPage{}, ErrEngineNotReady
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	res, err := e.flows.ListSessions(ctx, flows.ListInput{
		UserID: userID,
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		return SessionPage{}, err
	}

	out := SessionPage{Total: res.Total, Sessions: make([]SessionInfo, 0, len(res.Sessions))}
	for _, ls := range res.Sessions {
		out.Sessions = append(out.Sessions, toSessionInfo(ls))
	}
	return out, nil
}

// ActiveSessionCount returns the number of PATs userID currently holds.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}
	ix, err := e.sessionStore.Load(ctx, userID)
	if err != nil {
		return 0, err
	}
	return ix.Len(), nil
}

// InspectToken decodes token without verifying it. Payload keys under
// data.user are flattened to "data.user.<key>". Decode errors are returned
// as is, not as [*AuthError], so operators can see what is wrong.
func (e *Engine) InspectToken(token string) (TokenView, error) {
	if e == nil {
		return TokenView{}, ErrEngineNotReady
	}
	d, err := jwt.Decode(stripBearer(token), e.tokenPrefix())
	if err != nil {
		return TokenView{}, err
	}

	header, err := d.HeaderFields()
	if err != nil {
		return TokenView{}, errors.Join(ErrMalformedToken, err)
	}
	payload, err := d.PayloadFields()
	if err != nil {
		return TokenView{}, errors.Join(ErrMalformedToken, err)
	}
	return TokenView{Header: header, Payload: flattenUser(payload)}, nil
}

// Health describes the health operation and its observable behavior.
//
// Health does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessionStore == nil {
		return HealthStatus{}
	}

	latency, err := e.sessionStore.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
		KeysLoaded:     e.KeysLoaded(),
	}
}

func toSessionInfo(ls flows.ListedSession) SessionInfo {
	info := SessionInfo{
		UserID:     ls.UserID,
		PAT:        ls.PAT,
		Token:      ls.Token,
		Created:    time.Unix(ls.Created, 0),
		ExpiresAt:  time.Unix(ls.ExpiresAt, 0),
		HasRefresh: ls.RefreshExpiresAt > 0,
	}
	if ls.LastUsed > 0 {
		info.LastUsed = time.Unix(ls.LastUsed, 0)
	}
	if info.HasRefresh {
		info.RefreshExpiresAt = time.Unix(ls.RefreshExpiresAt, 0)
	}
	return info
}

func flattenUser(payload map[string]any) map[string]any {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return payload
	}
	user, ok := data["user"].(map[string]any)
	if !ok {
		return payload
	}

	out := make(map[string]any, len(payload)+len(user))
	for k, v := range payload {
		if k != "data" {
			out[k] = v
		}
	}
	for k, v := range data {
		if k != "user" {
			out["data."+k] = v
		}
	}
	for k, v := range user {
		out["data.user."+k] = v
	}
	return out
}
