package jwt

import (
	"errors"
	"testing"
	"time"
)

const testIssuer = "https://shop.example"

func newTestManager(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Algorithm:  HS256,
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     testIssuer,
		AccessTTL:  10 * 24 * time.Hour,
		Now:        func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func claimsAt(iat time.Time, ttl time.Duration) Claims {
	return Claims{
		Issuer:    testIssuer,
		IssuedAt:  iat.Unix(),
		NotBefore: iat.Unix(),
		ExpiresAt: iat.Add(ttl).Unix(),
		Data: ClaimData{User: UserClaims{
			ID: "42", Username: "alice", IP: "1.2.3.4", Device: "UA-X", PAT: "pat_aaaaaaaaaaaaaaaaaaaaaaaa",
		}},
	}
}

func TestValidatorExpiryBoundary(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestManager(t, &now)
	c := claimsAt(now, time.Hour)

	token, err := m.CreateAccess(c)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now = time.Unix(c.ExpiresAt-1, 0)
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("expected valid one second before exp, got %v", err)
	}

	now = time.Unix(c.ExpiresAt, 0)
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("expected valid at exp, got %v", err)
	}

	now = time.Unix(c.ExpiresAt+1, 0)
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired after exp, got %v", err)
	}
}

func TestValidatorDetectsPayloadTampering(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestManager(t, &now)

	token, err := m.CreateAccess(claimsAt(now, time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	orig, err := m.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	for i := range orig.PayloadJSON {
		d, _ := m.Decode(token)
		raw := append([]byte(nil), orig.PayloadJSON...)
		raw[i] ^= 0x01
		d.PayloadEncoded = Base64URLEncode(raw)
		if _, err := m.Validate(d); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("byte %d: expected ErrBadSignature, got %v", i, err)
		}
	}
}

func TestValidatorOrder(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestManager(t, &now)

	sign := func(h Header, c Claims) *Decoded {
		t.Helper()
		input, err := SigningInput(h, c)
		if err != nil {
			t.Fatalf("signing input: %v", err)
		}
		sig, err := m.signer.Sign(input)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		token := input + "." + Base64URLEncode(sig)
		d, err := Decode(token, "")
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return d
	}

	good := Header{Alg: "HS256", Typ: TypeJWT}

	t.Run("header alg", func(t *testing.T) {
		d := sign(Header{Alg: "HS512", Typ: TypeJWT}, claimsAt(now, time.Hour))
		if _, err := m.Validate(d); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("expected ErrMalformedHeader, got %v", err)
		}
	})

	t.Run("header typ", func(t *testing.T) {
		d := sign(Header{Alg: "HS256", Typ: "at+jwt"}, claimsAt(now, time.Hour))
		if _, err := m.Validate(d); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("expected ErrMalformedHeader, got %v", err)
		}
	})

	t.Run("expired before issuer", func(t *testing.T) {
		c := claimsAt(now.Add(-2*time.Hour), time.Hour)
		c.Issuer = "other"
		if _, err := m.Validate(sign(good, c)); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
	})

	t.Run("issuer", func(t *testing.T) {
		c := claimsAt(now, time.Hour)
		c.Issuer = "https://evil.example"
		if _, err := m.Validate(sign(good, c)); !errors.Is(err, ErrIssuerMismatch) {
			t.Fatalf("expected ErrIssuerMismatch, got %v", err)
		}
	})

	t.Run("subject", func(t *testing.T) {
		c := claimsAt(now, time.Hour)
		c.Data.User.ID = ""
		if _, err := m.Validate(sign(good, c)); !errors.Is(err, ErrMissingSubject) {
			t.Fatalf("expected ErrMissingSubject, got %v", err)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		c := claimsAt(now, time.Hour)
		c.ExpiresAt = 0
		if _, err := m.Validate(sign(good, c)); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired for missing exp, got %v", err)
		}
	})
}

func TestCheckContext(t *testing.T) {
	c := claimsAt(time.Unix(1700000000, 0), time.Hour)

	if err := CheckContext(&c, "1.2.3.4", "UA-X", true, true); err != nil {
		t.Fatalf("matching context rejected: %v", err)
	}
	if err := CheckContext(&c, "5.6.7.8", "UA-X", true, true); !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("expected ip mismatch, got %v", err)
	}
	if err := CheckContext(&c, "5.6.7.8", "UA-X", false, true); err != nil {
		t.Fatalf("ip check disabled but rejected: %v", err)
	}
	if err := CheckContext(&c, "1.2.3.4", "UA-Y", true, true); !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("expected device mismatch, got %v", err)
	}
	if err := CheckContext(&c, "1.2.3.4", "", true, true); err != nil {
		t.Fatalf("absent caller device must not be compared: %v", err)
	}
}
