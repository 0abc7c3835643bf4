package patAuth

import (
	"context"
	"sync"
)

type clientIPContextKey struct{}
type deviceContextKey struct{}
type requestGuardContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. Engine methods that
// take no explicit [ClientContext] read it from here.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithDevice attaches the resolved device header value to ctx.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, device)
}

// WithClientContext attaches both halves of cc to ctx.
func WithClientContext(ctx context.Context, cc ClientContext) context.Context {
	return WithDevice(WithClientIP(ctx, cc.IP), cc.Device)
}

// ClientContextFrom returns the client context attached to ctx.
func ClientContextFrom(ctx context.Context) ClientContext {
	if ctx == nil {
		return ClientContext{}
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	device, _ := ctx.Value(deviceContextKey{}).(string)
	return ClientContext{IP: ip, Device: device}
}

// requestGuard memoizes the first authentication outcome of a request.
type requestGuard struct {
	once   sync.Once
	result AuthResult
}

// WithRequestGuard attaches a once-per-request guard to ctx. Every
// [Engine.Authenticate] call made with the returned context (or one derived
// from it) returns the outcome of the first call.
func WithRequestGuard(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestGuardContextKey{}).(*requestGuard); ok {
		return ctx
	}
	return context.WithValue(ctx, requestGuardContextKey{}, &requestGuard{})
}

func requestGuardFrom(ctx context.Context) *requestGuard {
	if ctx == nil {
		return nil
	}
	g, _ := ctx.Value(requestGuardContextKey{}).(*requestGuard)
	return g
}
