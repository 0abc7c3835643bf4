package jwt

import (
	"errors"
	"time"
)

// Config defines a public type used by patAuth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Algorithm       Algorithm
	SigningKey      []byte
	VerificationKey []byte
	Issuer          string
	AccessTTL       time.Duration
	Prefix          func() string
	Policy          AlgorithmPolicy
	Now             func() time.Time
}

// Manager ties a [Signer], the token codec and a [Validator] to one
// configuration.
type Manager struct {
	config    Config
	signer    *Signer
	validator *Validator
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
// NewManager does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Prefix == nil {
		cfg.Prefix = func() string { return "" }
	}

	signer, err := NewSigner(cfg.Algorithm, cfg.SigningKey, cfg.VerificationKey, cfg.Policy)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:    cfg,
		signer:    signer,
		validator: NewValidator(signer, cfg.Issuer, cfg.Now),
	}, nil
}

// Issuer returns the configured issuer.
func (m *Manager) Issuer() string { return m.config.Issuer }

// AccessTTL returns the default access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// Prefix returns the prefix currently applied to issued tokens.
func (m *Manager) Prefix() string { return m.config.Prefix() }

// Algorithm returns the effective signing algorithm.
func (m *Manager) Algorithm() (Algorithm, error) { return m.signer.Algorithm() }

// CanSign reports whether tokens can be minted (a signing key is loaded).
func (m *Manager) CanSign() bool { return m.signer.CanSign() }

// CreateAccess signs claims and returns the prefixed compact token.
//
//	Performance: one JSON encode per segment plus one signature.
func (m *Manager) CreateAccess(claims Claims) (string, error) {
	if err := claims.CheckTiming(); err != nil {
		return "", err
	}

	alg, err := m.signer.Algorithm()
	if err != nil {
		return "", err
	}

	header := Header{Alg: string(alg), Typ: TypeJWT}
	input, err := SigningInput(header, claims)
	if err != nil {
		return "", err
	}
	sig, err := m.signer.Sign(input)
	if err != nil {
		return "", err
	}

	return m.config.Prefix() + input + "." + Base64URLEncode(sig), nil
}

// Decode parses token with the configured prefix and no validation.
func (m *Manager) Decode(token string) (*Decoded, error) {
	return Decode(token, m.config.Prefix())
}

// ParseAccess decodes and runs the stateless validation steps.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	d, err := m.Decode(token)
	if err != nil {
		return nil, err
	}
	return m.validator.Validate(d)
}

// Validate runs the stateless validation steps on an already decoded token.
func (m *Manager) Validate(d *Decoded) (*Claims, error) {
	return m.validator.Validate(d)
}
