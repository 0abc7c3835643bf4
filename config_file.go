package patAuth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used by the binaries when --config is not provided.
const DefaultConfigPath = "patauth.yml"

// FileConfig is a configuration file: the engine [Config] plus the settings
// of the process hosting it.
type FileConfig struct {
	Engine   Config
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Log      LogConfig
	// SigningKeyFile and VerificationKeyFile are the paths keys were read
	// from, kept so a host can watch them for rotation.
	SigningKeyFile      string
	VerificationKeyFile string
}

// ServerConfig configures the REST host.
type ServerConfig struct {
	Addr            string
	// BaseURL is the public site URL. It is the token issuer unless
	// jwt.issuer overrides it.
	BaseURL         string
	AllowedOrigins  []string
	TrustedProxies  []string
	ShutdownTimeout time.Duration
}

// RedisConfig configures the record store connection.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// DatabaseConfig configures the SQLite user directory.
type DatabaseConfig struct {
	Path string
}

// LogConfig selects the zap logger preset.
type LogConfig struct {
	Level       string
	Development bool
}

type rawFileConfig struct {
	JWT           rawJWTConfig           `yaml:"jwt"`
	Session       rawSessionConfig       `yaml:"session"`
	DeviceBinding rawDeviceBindingConfig `yaml:"device_binding"`
	Directory     rawDirectoryConfig     `yaml:"directory"`
	Federated     rawFederatedConfig     `yaml:"federated"`
	RateLimit     rawRateLimitConfig     `yaml:"rate_limit"`
	Audit         rawAuditConfig         `yaml:"audit"`
	Metrics       rawMetricsConfig       `yaml:"metrics"`
	Cleanup       rawCleanupConfig       `yaml:"cleanup"`
	Server        rawServerConfig        `yaml:"server"`
	Redis         rawRedisConfig         `yaml:"redis"`
	Database      rawDatabaseConfig      `yaml:"database"`
	Log           rawLogConfig           `yaml:"log"`
}

type rawJWTConfig struct {
	Algorithm           string  `yaml:"algorithm"`
	SigningKey          string  `yaml:"signing_key"`
	SigningKeyFile      string  `yaml:"signing_key_file"`
	VerificationKey     string  `yaml:"verification_key"`
	VerificationKeyFile string  `yaml:"verification_key_file"`
	Issuer              string  `yaml:"issuer"`
	AccessTTL           string  `yaml:"access_ttl"`
	RefreshTTL          string  `yaml:"refresh_ttl"`
	TokenPrefix         *string `yaml:"token_prefix"`
}

type rawSessionConfig struct {
	RedisPrefix      string `yaml:"redis_prefix"`
	MaxSessions      *int   `yaml:"max_sessions"`
	RefreshRetention string `yaml:"refresh_retention"`
}

type rawDeviceBindingConfig struct {
	EnforceIP         *bool    `yaml:"enforce_ip"`
	EnforceDevice     *bool    `yaml:"enforce_device"`
	DeviceHeaders     []string `yaml:"device_headers"`
	TrustForwardedFor *bool    `yaml:"trust_forwarded_for"`
}

type rawDirectoryConfig struct {
	Timeout string `yaml:"timeout"`
}

type rawFederatedConfig struct {
	Enabled           *bool  `yaml:"enabled"`
	Provider          string `yaml:"provider"`
	ClientID          string `yaml:"client_id"`
	TokenInfoURL      string `yaml:"token_info_url"`
	Timeout           string `yaml:"timeout"`
	AllowRegistration *bool  `yaml:"allow_registration"`
}

type rawRateLimitConfig struct {
	Enabled  *bool                `yaml:"enabled"`
	Policies []rawRateLimitPolicy `yaml:"policies"`
}

type rawRateLimitPolicy struct {
	Route  string `yaml:"route"`
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

type rawAuditConfig struct {
	Enabled    *bool `yaml:"enabled"`
	BufferSize int   `yaml:"buffer_size"`
	DropIfFull *bool `yaml:"drop_if_full"`
}

type rawMetricsConfig struct {
	Enabled           *bool `yaml:"enabled"`
	LatencyHistograms *bool `yaml:"latency_histograms"`
}

type rawCleanupConfig struct {
	BatchSize int `yaml:"batch_size"`
}

type rawServerConfig struct {
	Addr            string   `yaml:"addr"`
	BaseURL         string   `yaml:"base_url"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	TrustedProxies  []string `yaml:"trusted_proxies"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

type rawRedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
}

type rawDatabaseConfig struct {
	Path string `yaml:"path"`
}

type rawLogConfig struct {
	Level       string `yaml:"level"`
	Development *bool  `yaml:"development"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the environment value. Unset names expand
// to the empty string.
func expandEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		return []byte(os.Getenv(name))
	})
}

// LoadConfigFile reads a YAML configuration file. Unset keys keep the
// values of [DefaultConfig]; unknown keys are an error. ${NAME} references
// are expanded from the environment before parsing. Key material may be
// inline or read from *_file paths relative to the working directory.
//
// The result is not validated; [Builder.Build] does that.
func LoadConfigFile(path string) (*FileConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return ParseConfig(content)
}

// ParseConfig parses configuration file content. See [LoadConfigFile].
func ParseConfig(content []byte) (*FileConfig, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(expandEnv(content)))
	decoder.KnownFields(true)

	raw := rawFileConfig{}
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := defaultFileConfig()
	if err := applyRawFileConfig(cfg, raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultFileConfig() *FileConfig {
	return &FileConfig{
		Engine: defaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			BaseURL:         DefaultBaseURL,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			Path: "patauth.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyRawFileConfig(cfg *FileConfig, raw rawFileConfig) error {
	e := &cfg.Engine

	// JWT
	if v := strings.TrimSpace(raw.JWT.Algorithm); v != "" {
		e.JWT.Algorithm = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(raw.Server.BaseURL); v != "" {
		cfg.Server.BaseURL = strings.TrimRight(v, "/")
	}
	e.JWT.Issuer = cfg.Server.BaseURL
	if v := strings.TrimSpace(raw.JWT.Issuer); v != "" {
		e.JWT.Issuer = v
	}
	if raw.JWT.TokenPrefix != nil {
		e.JWT.TokenPrefix = *raw.JWT.TokenPrefix
	}
	if err := setDuration(&e.JWT.AccessTTL, raw.JWT.AccessTTL, "jwt.access_ttl"); err != nil {
		return err
	}
	if err := setDuration(&e.JWT.RefreshTTL, raw.JWT.RefreshTTL, "jwt.refresh_ttl"); err != nil {
		return err
	}
	signing, err := keyMaterial(raw.JWT.SigningKey, raw.JWT.SigningKeyFile, "jwt.signing_key")
	if err != nil {
		return err
	}
	verification, err := keyMaterial(raw.JWT.VerificationKey, raw.JWT.VerificationKeyFile, "jwt.verification_key")
	if err != nil {
		return err
	}
	e.JWT.SigningKey = signing
	e.JWT.VerificationKey = verification
	cfg.SigningKeyFile = strings.TrimSpace(raw.JWT.SigningKeyFile)
	cfg.VerificationKeyFile = strings.TrimSpace(raw.JWT.VerificationKeyFile)

	// Session
	if v := strings.TrimSpace(raw.Session.RedisPrefix); v != "" {
		e.Session.RedisPrefix = v
	}
	if raw.Session.MaxSessions != nil {
		e.Session.MaxSessions = *raw.Session.MaxSessions
	}
	if err := setDuration(&e.Session.RefreshRetention, raw.Session.RefreshRetention, "session.refresh_retention"); err != nil {
		return err
	}

	// Device binding
	setBool(&e.DeviceBinding.EnforceIP, raw.DeviceBinding.EnforceIP)
	setBool(&e.DeviceBinding.EnforceDevice, raw.DeviceBinding.EnforceDevice)
	setBool(&e.DeviceBinding.TrustForwardedFor, raw.DeviceBinding.TrustForwardedFor)
	if headers := trimAll(raw.DeviceBinding.DeviceHeaders); len(headers) > 0 {
		e.DeviceBinding.DeviceHeaders = headers
	}

	// Directory
	if err := setDuration(&e.Directory.Timeout, raw.Directory.Timeout, "directory.timeout"); err != nil {
		return err
	}

	// Federated
	setBool(&e.Federated.Enabled, raw.Federated.Enabled)
	setBool(&e.Federated.AllowRegistration, raw.Federated.AllowRegistration)
	if v := strings.TrimSpace(raw.Federated.Provider); v != "" {
		e.Federated.Provider = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.Federated.ClientID); v != "" {
		e.Federated.ClientID = v
	}
	if v := strings.TrimSpace(raw.Federated.TokenInfoURL); v != "" {
		e.Federated.TokenInfoURL = v
	}
	if err := setDuration(&e.Federated.Timeout, raw.Federated.Timeout, "federated.timeout"); err != nil {
		return err
	}

	// Rate limit
	setBool(&e.RateLimit.Enabled, raw.RateLimit.Enabled)
	if len(raw.RateLimit.Policies) > 0 {
		policies := make([]RateLimitPolicy, 0, len(raw.RateLimit.Policies))
		for i, p := range raw.RateLimit.Policies {
			window, err := time.ParseDuration(strings.TrimSpace(p.Window))
			if err != nil {
				return fmt.Errorf("invalid rate_limit.policies[%d].window %q: %w", i, p.Window, err)
			}
			policies = append(policies, RateLimitPolicy{Route: strings.TrimSpace(p.Route), Limit: p.Limit, Window: window})
		}
		e.RateLimit.Policies = policies
	}

	// Audit
	setBool(&e.Audit.Enabled, raw.Audit.Enabled)
	setBool(&e.Audit.DropIfFull, raw.Audit.DropIfFull)
	if raw.Audit.BufferSize != 0 {
		e.Audit.BufferSize = raw.Audit.BufferSize
	}

	// Metrics
	setBool(&e.Metrics.Enabled, raw.Metrics.Enabled)
	setBool(&e.Metrics.EnableLatencyHistograms, raw.Metrics.LatencyHistograms)

	// Cleanup
	if raw.Cleanup.BatchSize != 0 {
		e.Cleanup.BatchSize = raw.Cleanup.BatchSize
	}

	// Server
	if v := strings.TrimSpace(raw.Server.Addr); v != "" {
		cfg.Server.Addr = v
	}
	if raw.Server.AllowedOrigins != nil {
		cfg.Server.AllowedOrigins = trimAll(raw.Server.AllowedOrigins)
	}
	if raw.Server.TrustedProxies != nil {
		cfg.Server.TrustedProxies = trimAll(raw.Server.TrustedProxies)
	}
	if err := setDuration(&cfg.Server.ShutdownTimeout, raw.Server.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
		return err
	}

	// Redis
	if v := strings.TrimSpace(raw.Redis.Addr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(raw.Redis.Username); v != "" {
		cfg.Redis.Username = v
	}
	if raw.Redis.Password != "" {
		cfg.Redis.Password = raw.Redis.Password
	}
	if raw.Redis.DB != nil {
		if *raw.Redis.DB < 0 {
			return fmt.Errorf("invalid redis.db %d, expected >= 0", *raw.Redis.DB)
		}
		cfg.Redis.DB = *raw.Redis.DB
	}

	// Database
	if v := strings.TrimSpace(raw.Database.Path); v != "" {
		cfg.Database.Path = v
	}

	// Log
	if v := strings.TrimSpace(raw.Log.Level); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	setBool(&cfg.Log.Development, raw.Log.Development)

	return nil
}

func setDuration(dst *time.Duration, raw, key string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, raw *bool) {
	if raw != nil {
		*dst = *raw
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// keyMaterial returns inline key bytes or the content of file. Setting both
// is an error.
func keyMaterial(inline, file, key string) ([]byte, error) {
	file = strings.TrimSpace(file)
	if inline != "" && file != "" {
		return nil, fmt.Errorf("%s and %s_file are mutually exclusive", key, key)
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s_file %q: %w", key, file, err)
		}
		return b, nil
	}
	if inline == "" {
		return nil, nil
	}
	return []byte(inline), nil
}

// ReadKeyFiles re-reads the key files named in cfg, for hot reload.
func (cfg *FileConfig) ReadKeyFiles() (signing, verification []byte, err error) {
	signing, err = keyMaterial("", cfg.SigningKeyFile, "jwt.signing_key")
	if err != nil {
		return nil, nil, err
	}
	verification, err = keyMaterial("", cfg.VerificationKeyFile, "jwt.verification_key")
	if err != nil {
		return nil, nil, err
	}
	return signing, verification, nil
}

// NewLogger builds the zap logger selected by c: console output in
// development, JSON otherwise.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// NewClient returns a Redis client for c.
func (c RedisConfig) NewClient() redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{c.Addr},
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	})
}
