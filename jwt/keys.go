package jwt

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ParseKeyPair turns raw key material into the key types expected by the
// golang-jwt signing methods for alg. HMAC keys are raw bytes; the other
// families take PEM. An empty signingKey yields a verify-only pair.
func ParseKeyPair(alg Algorithm, signingKey, verificationKey []byte) (sign any, verify any, err error) {
	switch alg.Family() {
	case FamilyHMAC:
		if len(signingKey) == 0 && len(verificationKey) == 0 {
			return nil, nil, fmt.Errorf("%w: hmac secret required", ErrInvalidKey)
		}
		if len(signingKey) > 0 {
			sign = cloneKey(signingKey)
		}
		if len(verificationKey) > 0 {
			verify = cloneKey(verificationKey)
		} else {
			verify = cloneKey(signingKey)
		}
		return sign, verify, nil

	case FamilyRSA, FamilyRSAPSS:
		var priv *rsa.PrivateKey
		if len(signingKey) > 0 {
			priv, err = jwtlib.ParseRSAPrivateKeyFromPEM(signingKey)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			sign = priv
		}
		switch {
		case len(verificationKey) > 0:
			pub, err := jwtlib.ParseRSAPublicKeyFromPEM(verificationKey)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			verify = pub
		case priv != nil:
			verify = &priv.PublicKey
		default:
			return nil, nil, fmt.Errorf("%w: rsa key required", ErrInvalidKey)
		}
		return sign, verify, nil

	case FamilyECDSA:
		var priv *ecdsa.PrivateKey
		if len(signingKey) > 0 {
			priv, err = jwtlib.ParseECPrivateKeyFromPEM(signingKey)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			sign = priv
		}
		switch {
		case len(verificationKey) > 0:
			pub, err := jwtlib.ParseECPublicKeyFromPEM(verificationKey)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			verify = pub
		case priv != nil:
			verify = &priv.PublicKey
		default:
			return nil, nil, fmt.Errorf("%w: ecdsa key required", ErrInvalidKey)
		}
		return sign, verify, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
}

func cloneKey(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
