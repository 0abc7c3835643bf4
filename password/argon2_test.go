package password

import (
	"errors"
	"strings"
	"testing"
)

// fastParams keeps the tests quick while staying above the floor.
func fastParams() Params {
	return Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MinLength: 8}
}

func TestHashAndVerify(t *testing.T) {
	h, err := New(fastParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = h.Verify("P@ssw0rd-ascii", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
}

func TestHashSaltsEachCall(t *testing.T) {
	h, _ := New(fastParams())
	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Fatal("two hashes of one password must differ")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h, _ := New(fastParams())
	for _, pw := range []string{"", "short"} {
		if _, err := h.Hash(pw); !errors.Is(err, ErrPasswordTooShort) {
			t.Fatalf("%q: expected ErrPasswordTooShort, got %v", pw, err)
		}
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	h, _ := New(fastParams())
	hash, _ := h.Hash("padded-password")

	parts := strings.Split(hash, "$")
	pad := func(s string) string {
		for len(s)%4 != 0 {
			s += "="
		}
		return s
	}
	parts[4], parts[5] = pad(parts[4]), pad(parts[5])

	ok, err := h.Verify("padded-password", strings.Join(parts, "$"))
	if err != nil || !ok {
		t.Fatalf("expected padded hash to verify, got %v %v", ok, err)
	}
}

func TestNeedsRehash(t *testing.T) {
	old, _ := New(fastParams())
	hash, _ := old.Hash("test-password")

	stronger := fastParams()
	stronger.Time = 2
	h, _ := New(stronger)

	if up, err := h.NeedsRehash(hash); err != nil || !up {
		t.Fatalf("expected rehash, got %v %v", up, err)
	}
	if up, err := old.NeedsRehash(hash); err != nil || up {
		t.Fatalf("expected no rehash, got %v %v", up, err)
	}
}

func TestVerifyMalformedHashes(t *testing.T) {
	h, _ := New(fastParams())
	cases := []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,x=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$!!!",
	}
	for _, c := range cases {
		if _, err := h.Verify("whatever-password", c); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%q: expected ErrInvalidHash, got %v", c, err)
		}
	}
}

func TestNewRejectsWeakParams(t *testing.T) {
	mutations := []func(*Params){
		func(p *Params) { p.Memory = 1024 },
		func(p *Params) { p.Time = 0 },
		func(p *Params) { p.Parallelism = 0 },
		func(p *Params) { p.SaltLength = 8 },
		func(p *Params) { p.KeyLength = 8 },
		func(p *Params) { p.MinLength = -1 },
	}
	for i, mutate := range mutations {
		p := fastParams()
		mutate(&p)
		if _, err := New(p); !errors.Is(err, ErrWeakParams) {
			t.Fatalf("case %d: expected ErrWeakParams, got %v", i, err)
		}
	}
	if _, err := New(DefaultParams()); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}
}
