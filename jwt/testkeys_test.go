package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
)

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaKey = k
	})
	return rsaKey
}

func rsaPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()
	k := testRSAKey(t)
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)})
	pubDER, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		t.Fatalf("marshal rsa public: %v", err)
	}
	return priv, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
}

func ecPEM(t *testing.T, curve elliptic.Curve) ([]byte, []byte) {
	t.Helper()
	k, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate ec key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(k)
	if err != nil {
		t.Fatalf("marshal ec private: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		t.Fatalf("marshal ec public: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
}

// keysFor returns signing and verification material for alg.
func keysFor(t *testing.T, alg Algorithm) ([]byte, []byte) {
	t.Helper()
	switch alg.Family() {
	case FamilyHMAC:
		return []byte("0123456789abcdef0123456789abcdef"), nil
	case FamilyRSA, FamilyRSAPSS:
		return rsaPEM(t)
	case FamilyECDSA:
		switch alg {
		case ES256:
			return ecPEM(t, elliptic.P256())
		case ES384:
			return ecPEM(t, elliptic.P384())
		default:
			return ecPEM(t, elliptic.P521())
		}
	}
	t.Fatalf("no keys for %s", alg)
	return nil, nil
}
