package jwt

import (
	"errors"
	"fmt"
	"sort"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Algorithm is a JWS "alg" header value.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
	PS256 Algorithm = "PS256"
	PS384 Algorithm = "PS384"
	PS512 Algorithm = "PS512"
)

// Family groups algorithms that share key material.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyHMAC
	FamilyRSA
	FamilyECDSA
	FamilyRSAPSS
)

var allowList = map[Algorithm]jwtlib.SigningMethod{
	HS256: jwtlib.SigningMethodHS256,
	HS384: jwtlib.SigningMethodHS384,
	HS512: jwtlib.SigningMethodHS512,
	RS256: jwtlib.SigningMethodRS256,
	RS384: jwtlib.SigningMethodRS384,
	RS512: jwtlib.SigningMethodRS512,
	ES256: jwtlib.SigningMethodES256,
	ES384: jwtlib.SigningMethodES384,
	ES512: jwtlib.SigningMethodES512,
	PS256: jwtlib.SigningMethodPS256,
	PS384: jwtlib.SigningMethodPS384,
	PS512: jwtlib.SigningMethodPS512,
}

// Allowed reports whether alg is on the allow-list.
func Allowed(alg Algorithm) bool {
	_, ok := allowList[alg]
	return ok
}

// AllowedAlgorithms returns the allow-list in stable order.
func AllowedAlgorithms() []Algorithm {
	out := make([]Algorithm, 0, len(allowList))
	for alg := range allowList {
		out = append(out, alg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Family returns the key family of alg, or FamilyUnknown.
func (a Algorithm) Family() Family {
	if !Allowed(a) {
		return FamilyUnknown
	}
	switch a[:2] {
	case "HS":
		return FamilyHMAC
	case "RS":
		return FamilyRSA
	case "ES":
		return FamilyECDSA
	case "PS":
		return FamilyRSAPSS
	}
	return FamilyUnknown
}

// Sign signs data with key using alg.
func Sign(data string, key any, alg Algorithm) ([]byte, error) {
	method, ok := allowList[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if b, isBytes := key.([]byte); isBytes && len(b) == 0 {
		return nil, ErrInvalidKey
	}

	sig, err := method.Sign(data, key)
	if err != nil {
		return nil, classifyKeyError(err)
	}
	return sig, nil
}

// Verify checks sig over data. HMAC comparison is constant-time.
func Verify(data string, sig []byte, key any, alg Algorithm) error {
	method, ok := allowList[alg]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if b, isBytes := key.([]byte); isBytes && len(b) == 0 {
		return ErrInvalidKey
	}

	if err := method.Verify(data, sig, key); err != nil {
		if errors.Is(err, jwtlib.ErrInvalidKeyType) || errors.Is(err, jwtlib.ErrInvalidKey) {
			return classifyKeyError(err)
		}
		return ErrBadSignature
	}
	return nil
}

func classifyKeyError(err error) error {
	if errors.Is(err, jwtlib.ErrInvalidKeyType) || errors.Is(err, jwtlib.ErrInvalidKey) {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return err
}

// AlgorithmPolicy resolves the algorithm to use at sign and verify time.
type AlgorithmPolicy interface {
	ResolveAlgorithm(configured Algorithm) Algorithm
}

// Signer signs and verifies with a fixed key pair and an optional
// algorithm policy. A policy that resolves to an algorithm outside the
// allow-list makes both operations fail closed.
type Signer struct {
	alg       Algorithm
	signKey   any
	verifyKey any
	policy    AlgorithmPolicy
}

// NewSigner parses key material for alg. verificationKey may be empty for
// HMAC (the signing key is reused) and for RSA/ECDSA when the public half
// can be derived from the private key.
func NewSigner(alg Algorithm, signingKey, verificationKey []byte, policy AlgorithmPolicy) (*Signer, error) {
	if !Allowed(alg) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	sk, vk, err := ParseKeyPair(alg, signingKey, verificationKey)
	if err != nil {
		return nil, err
	}

	return &Signer{alg: alg, signKey: sk, verifyKey: vk, policy: policy}, nil
}

// Algorithm returns the currently effective algorithm.
func (s *Signer) Algorithm() (Algorithm, error) {
	alg := s.alg
	if s.policy != nil {
		alg = s.policy.ResolveAlgorithm(alg)
	}
	if !Allowed(alg) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return alg, nil
}

// CanSign reports whether a private key is loaded.
func (s *Signer) CanSign() bool {
	return s.signKey != nil
}

func (s *Signer) Sign(data string) ([]byte, error) {
	alg, err := s.Algorithm()
	if err != nil {
		return nil, err
	}
	if s.signKey == nil {
		return nil, fmt.Errorf("%w: no signing key", ErrInvalidKey)
	}
	return Sign(data, s.signKey, alg)
}

func (s *Signer) Verify(data string, sig []byte) error {
	alg, err := s.Algorithm()
	if err != nil {
		return err
	}
	return Verify(data, sig, s.verifyKey, alg)
}
