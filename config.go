package patAuth

import (
	"errors"
	"time"

	"github.com/MrEthical07/patAuth/internal"
	"github.com/MrEthical07/patAuth/internal/rate"
	"github.com/MrEthical07/patAuth/jwt"
)

// Config defines a public type used by patAuth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	DeviceBinding DeviceBindingConfig
	Directory     DirectoryConfig
	Federated     FederatedConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Cleanup       CleanupConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by patAuth APIs.
//
// SigningKey and VerificationKey hold raw bytes for HS* and PEM for the
// asymmetric algorithms. Both may be empty at build time; token operations
// then fail with ErrConfig until [Engine.ReloadKeys] installs keys.
type JWTConfig struct {
	Algorithm       string
	SigningKey      []byte
	VerificationKey []byte
	Issuer          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	TokenPrefix     string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by patAuth APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	RedisPrefix string
	// MaxSessions caps concurrent PATs per user; -1 disables the cap.
	MaxSessions int
	// RefreshRetention keeps refresh lookup records this long past their
	// expiration so late use reports "expired" rather than "invalid".
	RefreshRetention time.Duration
}

/*
====================================
DEVICE BINDING CONFIG
====================================
*/

// DeviceBindingConfig defines a public type used by patAuth APIs.
//
// DeviceHeaders are checked in order; the first non-empty value is the
// device string bound into tokens.
type DeviceBindingConfig struct {
	EnforceIP         bool
	EnforceDevice     bool
	DeviceHeaders     []string
	TrustForwardedFor bool
}

/*
====================================
DIRECTORY CONFIG
====================================
*/

// DirectoryConfig defines a public type used by patAuth APIs.
type DirectoryConfig struct {
	Timeout time.Duration
}

/*
====================================
FEDERATED CONFIG
====================================
*/

// FederatedConfig defines a public type used by patAuth APIs.
//
// FederatedConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type FederatedConfig struct {
	Enabled           bool
	Provider          string
	ClientID          string
	TokenInfoURL      string
	Timeout           time.Duration
	AllowRegistration bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by patAuth APIs.
type RateLimitConfig struct {
	Enabled  bool
	Policies []RateLimitPolicy
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by patAuth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by patAuth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
CLEANUP CONFIG
====================================
*/

// CleanupConfig defines a public type used by patAuth APIs.
type CleanupConfig struct {
	BatchSize int
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// ProviderGoogle is the only federated provider shipped with the engine.
const ProviderGoogle = "google"

// DefaultBaseURL is the site base URL assumed when none is configured. It is
// the default token issuer.
const DefaultBaseURL = "http://localhost:8080"

// DefaultConfig returns the configuration the engine falls back to. The
// issuer defaults to [DefaultBaseURL]; key material still has to be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Algorithm:  string(jwt.HS256),
			Issuer:     DefaultBaseURL,
			AccessTTL:  10 * 24 * time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix:      "pat",
			MaxSessions:      5,
			RefreshRetention: 24 * time.Hour,
		},
		DeviceBinding: DeviceBindingConfig{
			EnforceIP:     true,
			EnforceDevice: true,
			DeviceHeaders: append([]string(nil), internal.DefaultDeviceHeaders...),
		},
		Directory: DirectoryConfig{
			Timeout: 3 * time.Second,
		},
		Federated: FederatedConfig{
			Provider: ProviderGoogle,
			Timeout:  10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Policies: defaultRatePolicies(),
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Cleanup: CleanupConfig{
			BatchSize: 100,
		},
	}
}

func defaultRatePolicies() []RateLimitPolicy {
	defaults := rate.DefaultPolicies()
	out := make([]RateLimitPolicy, 0, len(defaults))
	for _, route := range []string{
		rate.RouteRefreshToken,
		rate.RouteValidateToken,
		rate.RouteGoogleAuth,
		rate.RouteGoogleUserInfo,
		rate.RouteLogin,
	} {
		p := defaults[route]
		out = append(out, RateLimitPolicy{Route: p.Route, Limit: p.Limit, Window: p.Window})
	}
	return out
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.SigningKey = cloneBytes(cfg.JWT.SigningKey)
	out.JWT.VerificationKey = cloneBytes(cfg.JWT.VerificationKey)
	out.DeviceBinding.DeviceHeaders = append([]string(nil), cfg.DeviceBinding.DeviceHeaders...)
	out.RateLimit.Policies = append([]RateLimitPolicy(nil), cfg.RateLimit.Policies...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks settings only; key material is parsed by Build.
func (c *Config) Validate() error {
	// JWT
	if !jwt.Allowed(jwt.Algorithm(c.JWT.Algorithm)) {
		return errors.New("JWT Algorithm is not supported")
	}
	if c.JWT.Issuer == "" {
		return errors.New("JWT Issuer must be set")
	}
	if c.JWT.AccessTTL < time.Second {
		return errors.New("JWT AccessTTL must be >= 1s")
	}
	if c.JWT.RefreshTTL < time.Second {
		return errors.New("JWT RefreshTTL must be >= 1s")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.MaxSessions == 0 || c.Session.MaxSessions < -1 {
		return errors.New("Session MaxSessions must be > 0 or -1 for unlimited")
	}
	if c.Session.RefreshRetention < 0 {
		return errors.New("Session RefreshRetention must be >= 0")
	}

	// Device binding
	if c.DeviceBinding.EnforceDevice && len(c.DeviceBinding.DeviceHeaders) == 0 {
		return errors.New("DeviceBinding DeviceHeaders must not be empty when EnforceDevice is true")
	}

	// Directory
	if c.Directory.Timeout <= 0 {
		return errors.New("Directory Timeout must be > 0")
	}

	// Federated
	if c.Federated.Enabled {
		if c.Federated.Provider != ProviderGoogle {
			return errors.New("Federated Provider must be 'google'")
		}
		if c.Federated.Timeout <= 0 {
			return errors.New("Federated Timeout must be > 0")
		}
	}

	// Rate limit
	if c.RateLimit.Enabled {
		seen := make(map[string]struct{}, len(c.RateLimit.Policies))
		for _, p := range c.RateLimit.Policies {
			if p.Route == "" {
				return errors.New("RateLimit policy Route must be set")
			}
			if p.Limit <= 0 || p.Window <= 0 {
				return errors.New("RateLimit policy Limit and Window must be > 0")
			}
			if _, dup := seen[p.Route]; dup {
				return errors.New("RateLimit policy Route is duplicated")
			}
			seen[p.Route] = struct{}{}
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Cleanup
	if c.Cleanup.BatchSize <= 0 {
		return errors.New("Cleanup BatchSize must be > 0")
	}

	return nil
}
