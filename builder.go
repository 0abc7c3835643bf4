package patAuth

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/federated"
	"github.com/MrEthical07/patAuth/internal/flows"
	"github.com/MrEthical07/patAuth/internal/rate"
	"github.com/MrEthical07/patAuth/session"
)

// Builder defines a public type used by patAuth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger

	users     UserDirectory
	providers ProviderDirectory
	verifier  federated.Verifier
	auditSink AuditSink
	clock     Clock
	random    RandomSource

	enricher        ClaimEnricher
	revocation      RevocationPolicy
	prefixPolicy    TokenPrefixPolicy
	algorithmPolicy AlgorithmPolicy
	sessionLimit    SessionLimitPolicy

	built bool
}

// New returns an empty Builder. Configure it with the With methods and call Build once.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the engine configuration. Build validates it.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the record store: a single Redis node, or a sentinel
// failover client. Cluster clients are rejected by Build because the session
// scripts touch keys of several users and the global index in one call.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the logger. Build names it "patauth"; nil keeps zap.NewNop.
//
// A nil logger is replaced with zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithUserDirectory sets the directory tokens are issued and validated against. Required.
func (b *Builder) WithUserDirectory(users UserDirectory) *Builder {
	b.users = users
	return b
}

// WithProviderDirectory enables federated sign-in lookups and user creation.
func (b *Builder) WithProviderDirectory(providers ProviderDirectory) *Builder {
	b.providers = providers
	return b
}

// WithVerifier replaces the default Google tokeninfo verifier.
func (b *Builder) WithVerifier(v federated.Verifier) *Builder {
	b.verifier = v
	return b
}

// WithAuditSink sets where audit events are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source used for iat, exp and session expiry.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithRandom overrides the entropy source for PATs and refresh tokens.
func (b *Builder) WithRandom(random RandomSource) *Builder {
	b.random = random
	return b
}

// WithClaimEnricher sets a hook that may add claims before signing.
func (b *Builder) WithClaimEnricher(enricher ClaimEnricher) *Builder {
	b.enricher = enricher
	return b
}

// WithRevocationPolicy decides which lifecycle events destroy sessions.
func (b *Builder) WithRevocationPolicy(policy RevocationPolicy) *Builder {
	b.revocation = policy
	return b
}

// WithTokenPrefixPolicy overrides JWT.Prefix at sign and parse time.
func (b *Builder) WithTokenPrefixPolicy(policy TokenPrefixPolicy) *Builder {
	b.prefixPolicy = policy
	return b
}

// WithAlgorithmPolicy overrides JWT.Algorithm at sign and verify time.
func (b *Builder) WithAlgorithmPolicy(policy AlgorithmPolicy) *Builder {
	b.algorithmPolicy = policy
	return b
}

// WithSessionLimitPolicy overrides Session.MaxSessions per user.
func (b *Builder) WithSessionLimitPolicy(policy SessionLimitPolicy) *Builder {
	b.sessionLimit = policy
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the engine. A Builder can
// build once; a second call fails.
//
// Missing key material is not an error: token operations fail with
// ErrConfig until [Engine.ReloadKeys] is called. Keys that are present but
// unparsable fail the build.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrConfig)
	}
	if _, ok := b.redis.(*redis.ClusterClient); ok {
		return nil, fmt.Errorf("%w: redis cluster is not supported", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if b.users == nil {
		return nil, fmt.Errorf("%w: user directory required", ErrConfig)
	}
	if cfg.Federated.Enabled && b.providers == nil {
		return nil, fmt.Errorf("%w: federated sign-in requires a provider directory", ErrConfig)
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}
	random := b.random
	if random == nil {
		random = rand.Reader
	}

	engine := &Engine{
		config:          cfg,
		sessionStore:    session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.RefreshRetention),
		users:           b.users,
		providers:       b.providers,
		logger:          logger.Named("patauth"),
		clock:           clock,
		random:          random,
		enricher:        b.enricher,
		revocation:      b.revocation,
		prefixPolicy:    b.prefixPolicy,
		algorithmPolicy: b.algorithmPolicy,
		sessionLimit:    b.sessionLimit,
	}

	// -------- RATE LIMITER --------
	if cfg.RateLimit.Enabled {
		policies := make(map[string]rate.Policy, len(cfg.RateLimit.Policies))
		for _, p := range cfg.RateLimit.Policies {
			policies[p.Route] = rate.Policy{Route: p.Route, Limit: p.Limit, Window: p.Window}
		}
		engine.rateLimiter = rate.New(b.redis, cfg.Session.RedisPrefix, policies)
	}

	// -------- FEDERATED VERIFIER --------
	engine.verifier = b.verifier
	if engine.verifier == nil && cfg.Federated.Enabled {
		engine.verifier = federated.NewGoogleVerifier(cfg.Federated.TokenInfoURL, cfg.Federated.Timeout)
	}

	// -------- KEYS --------
	if len(cfg.JWT.SigningKey) > 0 || len(cfg.JWT.VerificationKey) > 0 {
		m, err := engine.newManager(cfg.JWT.SigningKey, cfg.JWT.VerificationKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		engine.keys.Store(m)
	} else {
		engine.logger.Warn("no signing keys configured; token operations disabled until keys are loaded")
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.flowDeps = engine.buildFlowDeps()
	engine.flows = flows.New(engine.flowDeps)

	b.built = true

	return engine, nil
}
