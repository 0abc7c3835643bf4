package patAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/federated"
	"github.com/MrEthical07/patAuth/internal"
	"github.com/MrEthical07/patAuth/internal/audit"
	"github.com/MrEthical07/patAuth/internal/flows"
	"github.com/MrEthical07/patAuth/internal/rate"
	"github.com/MrEthical07/patAuth/jwt"
	"github.com/MrEthical07/patAuth/session"
)

// Engine defines a public type used by patAuth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// Signing keys are the exception: [Engine.ReloadKeys] swaps them atomically.
type Engine struct {
	config       Config
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	keys         atomic.Pointer[jwt.Manager]
	users        UserDirectory
	providers    ProviderDirectory
	verifier     federated.Verifier
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *zap.Logger
	clock        Clock
	random       RandomSource

	enricher        ClaimEnricher
	revocation      RevocationPolicy
	prefixPolicy    TokenPrefixPolicy
	algorithmPolicy AlgorithmPolicy
	sessionLimit    SessionLimitPolicy

	flowDeps flows.Deps
	flows    flows.Service
}

// Close drains pending audit events. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters. It is safe for
// concurrent use.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Add(id, n)
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

func (e *Engine) tokenPrefix() string {
	if e.prefixPolicy != nil {
		return e.prefixPolicy.TokenPrefix()
	}
	return e.config.JWT.TokenPrefix
}

/*
====================================
KEYS
====================================
*/

func (e *Engine) newManager(signingKey, verificationKey []byte) (*jwt.Manager, error) {
	return jwt.NewManager(jwt.Config{
		Algorithm:       jwt.Algorithm(e.config.JWT.Algorithm),
		SigningKey:      signingKey,
		VerificationKey: verificationKey,
		Issuer:          e.config.JWT.Issuer,
		AccessTTL:       e.config.JWT.AccessTTL,
		Prefix:          e.tokenPrefix,
		Policy:          e.algorithmPolicy,
		Now:             e.now,
	})
}

// manager returns the current key set or ErrConfig when none is loaded.
func (e *Engine) manager() (*jwt.Manager, error) {
	m := e.keys.Load()
	if m == nil {
		return nil, fmt.Errorf("%w: no signing keys loaded", ErrConfig)
	}
	return m, nil
}

func (e *Engine) signingManager() (*jwt.Manager, error) {
	m, err := e.manager()
	if err != nil {
		return nil, err
	}
	if !m.CanSign() {
		return nil, fmt.Errorf("%w: signing key missing", ErrConfig)
	}
	return m, nil
}

// ReloadKeys swaps the signing and verification keys without a restart.
// Tokens signed with the previous key stop validating once it returns.
func (e *Engine) ReloadKeys(signingKey, verificationKey []byte) error {
	if e == nil {
		return ErrEngineNotReady
	}
	m, err := e.newManager(cloneBytes(signingKey), cloneBytes(verificationKey))
	if err != nil {
		e.logger.Error("signing key reload failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	e.keys.Store(m)
	e.metricInc(MetricKeyReload)
	e.logger.Info("signing keys reloaded", zap.String("algorithm", e.config.JWT.Algorithm))
	return nil
}

// KeysLoaded reports whether tokens can currently be validated.
func (e *Engine) KeysLoaded() bool {
	return e != nil && e.keys.Load() != nil
}

/*
====================================
DIRECTORY
====================================
*/

// directoryCall runs fn with the configured timeout. Misses come back as
// ErrUserNotFound; every other failure, including a directory that ignores
// its context, becomes ErrDirectoryUnavailable.
func directoryCall[T any](e *Engine, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if e.users == nil {
		return zero, fmt.Errorf("%w: no user directory configured", ErrConfig)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Directory.Timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case out := <-ch:
		if out.err == nil {
			return out.value, nil
		}
		if isDirectoryMiss(out.err) {
			return zero, out.err
		}
		e.metricInc(MetricDirectoryUnavailable)
		return zero, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, out.err)
	case <-ctx.Done():
		e.metricInc(MetricDirectoryUnavailable)
		return zero, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, ctx.Err())
	}
}

// isDirectoryMiss reports answers from a reachable directory. They pass
// through directoryCall unwrapped.
func isDirectoryMiss(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrProviderIdentityNotFound)
}

func (e *Engine) findUserByID(ctx context.Context, id string) (User, error) {
	return directoryCall(e, ctx, func(ctx context.Context) (User, error) {
		return e.users.FindByID(ctx, id)
	})
}

// findUserByRef resolves ref as an id, then an email, then a login.
func (e *Engine) findUserByRef(ctx context.Context, ref string) (User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return User{}, ErrUserNotFound
	}

	lookups := []func(context.Context, string) (User, error){
		e.users.FindByID,
		e.users.FindByEmail,
		e.users.FindByLogin,
	}
	for _, lookup := range lookups {
		user, err := directoryCall(e, ctx, func(ctx context.Context) (User, error) {
			return lookup(ctx, ref)
		})
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return User{}, err
		}
	}
	return User{}, ErrUserNotFound
}

func toIdentity(u User) flows.Identity {
	return flows.Identity{ID: u.ID, Username: u.Username, Email: u.Email, DisplayName: u.DisplayName}
}

func fromIdentity(id flows.Identity) User {
	return User{ID: id.ID, Username: id.Username, Email: id.Email, DisplayName: id.DisplayName}
}

/*
====================================
FLOW WIRING
====================================
*/

func (e *Engine) buildFlowDeps() flows.Deps {
	resolve := func(ctx context.Context, id string) (flows.Identity, error) {
		u, err := e.findUserByID(ctx, id)
		if err != nil {
			return flows.Identity{}, err
		}
		return toIdentity(u), nil
	}

	issue := flows.IssueDeps{
		Now:         e.now,
		AccessTTL:   func() time.Duration { return e.config.JWT.AccessTTL },
		Issuer:      func() string { return e.config.JWT.Issuer },
		MaxSessions: e.maxSessions,
		NewPATID:    func() (string, error) { return internal.NewPATID(e.random) },
		Sign: func(claims jwt.Claims) (string, error) {
			m, err := e.signingManager()
			if err != nil {
				return "", err
			}
			return m.CreateAccess(claims)
		},
		SessionStore: e.sessionStore,
	}
	if e.enricher != nil {
		issue.Enrich = func(ctx context.Context, id flows.Identity, claims *jwt.Claims) error {
			return e.enricher.EnrichClaims(ctx, fromIdentity(id), claims)
		}
	}

	issueRefresh := flows.IssueRefreshDeps{
		Now:          e.now,
		RefreshTTL:   func() time.Duration { return e.config.JWT.RefreshTTL },
		NewToken:     func() (string, error) { return internal.NewRefreshToken(e.random) },
		SessionStore: e.sessionStore,
	}

	validate := flows.ValidateDeps{
		Decode: func(token string) (*jwt.Decoded, error) {
			m, err := e.manager()
			if err != nil {
				return nil, err
			}
			return m.Decode(token)
		},
		Verify: func(d *jwt.Decoded) (*jwt.Claims, error) {
			m, err := e.manager()
			if err != nil {
				return nil, err
			}
			return m.Validate(d)
		},
		ResolveUser:  resolve,
		UserNotFound: ErrUserNotFound,
		CheckContext: func(claims *jwt.Claims, ip, device string) error {
			return jwt.CheckContext(claims, ip, device, e.config.DeviceBinding.EnforceIP, e.config.DeviceBinding.EnforceDevice)
		},
		SessionStore: e.sessionStore,
		RevokedErr:   ErrSessionRevoked,
	}

	cleanup := flows.CleanupDeps{
		Now:          e.now,
		SessionStore: e.sessionStore,
		Failed: func(uid string, err error) {
			e.logger.Warn("cleanup failed for user", zap.String("user_id", uid), zap.Error(err))
		},
	}

	return flows.Deps{
		Issue:        issue,
		IssueRefresh: issueRefresh,
		Validate:     validate,
		Authenticate: flows.AuthenticateDeps{
			Prefix:   e.tokenPrefix,
			Validate: validate,
			Touch: func(ctx context.Context, uid, pat string) {
				e.touch(ctx, uid, pat)
			},
		},
		Rotate: flows.RotateDeps{
			Now:          e.now,
			ResolveUser:  resolve,
			UserNotFound: ErrUserNotFound,
			SessionStore: e.sessionStore,
			Issue:        issue,
			IssueRefresh: issueRefresh,
		},
		Login: flows.LoginDeps{
			Now:          e.now,
			Validate:     validate,
			SessionStore: e.sessionStore,
			Issue:        issue,
			IssueRefresh: issueRefresh,
		},
		Logout: flows.LogoutDeps{
			Allow: func(ctx context.Context, uid, event string) bool {
				if e.revocation == nil {
					return true
				}
				return e.revocation.ShouldRevoke(ctx, uid, LifecycleEvent(event))
			},
			SessionStore: e.sessionStore,
		},
		Cleanup:       cleanup,
		Introspection: flows.IntrospectionDeps{SessionStore: e.sessionStore},
	}
}

func (e *Engine) maxSessions(ctx context.Context, id flows.Identity) int {
	if e.sessionLimit != nil {
		return e.sessionLimit.MaxSessions(ctx, fromIdentity(id))
	}
	return e.config.Session.MaxSessions
}
