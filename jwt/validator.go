package jwt

import (
	"fmt"
	"time"
)

// Validator runs the stateless checks on a decoded token, in order:
// header, signature, expiry, issuer, subject. The first failure wins.
type Validator struct {
	signer *Signer
	issuer string
	now    func() time.Time
}

// NewValidator returns a Validator checking against signer's effective
// algorithm and the exact issuer string.
func NewValidator(signer *Signer, issuer string, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{signer: signer, issuer: issuer, now: now}
}

func (v *Validator) Validate(d *Decoded) (*Claims, error) {
	if d == nil {
		return nil, ErrMalformedToken
	}

	alg, err := v.signer.Algorithm()
	if err != nil {
		return nil, err
	}
	if d.Header.Typ != TypeJWT || Algorithm(d.Header.Alg) != alg {
		return nil, fmt.Errorf("%w: typ=%q alg=%q", ErrMalformedHeader, d.Header.Typ, d.Header.Alg)
	}

	if err := v.signer.Verify(d.SigningInput(), d.Signature); err != nil {
		return nil, err
	}

	claims := d.Payload
	if claims.ExpiresAt == 0 || v.now().Unix() > claims.ExpiresAt {
		return nil, ErrExpired
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: %q", ErrIssuerMismatch, claims.Issuer)
	}

	if claims.Data.User.ID == "" {
		return nil, ErrMissingSubject
	}

	return &claims, nil
}

// CheckContext compares the caller's network context with the values bound
// at issuance. Device is only compared when the caller sent one.
func CheckContext(claims *Claims, callerIP, callerDevice string, enforceIP, enforceDevice bool) error {
	if enforceIP && claims.Data.User.IP != callerIP {
		return fmt.Errorf("%w: ip", ErrContextMismatch)
	}
	if enforceDevice && callerDevice != "" && claims.Data.User.Device != callerDevice {
		return fmt.Errorf("%w: device", ErrContextMismatch)
	}
	return nil
}
