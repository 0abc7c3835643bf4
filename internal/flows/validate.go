package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/patAuth/jwt"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureDecode
	ValidateFailureClaims
	ValidateFailureUnknownUser
	ValidateFailureDirectory
	ValidateFailureContext
	ValidateFailureRevoked
	ValidateFailureStore
)

// ValidateInput is a compact token plus the caller context it arrived with.
type ValidateInput struct {
	Token  string
	IP     string
	Device string
}

// ValidateResult returns either claims and the resolved user or a classified
// failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
	User    Identity
}

type ValidateSessionStore interface {
	Active(ctx context.Context, uid, pat string) (bool, error)
}

// ValidateDeps captures stateful validation dependencies. Decode and Verify
// cover the stateless header, signature, expiry, issuer and subject checks.
type ValidateDeps struct {
	Decode       func(string) (*jwt.Decoded, error)
	Verify       func(*jwt.Decoded) (*jwt.Claims, error)
	ResolveUser  func(context.Context, string) (Identity, error)
	UserNotFound error
	CheckContext func(claims *jwt.Claims, ip, device string) error
	SessionStore ValidateSessionStore
	// RevokedErr is reported when the PAT is no longer in the session set.
	RevokedErr error
}

// RunValidate executes the full validation order. The first failing step
// wins.
func RunValidate(ctx context.Context, in ValidateInput, deps ValidateDeps) ValidateResult {
	decoded, err := deps.Decode(in.Token)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureDecode, Err: err}
	}

	claims, err := deps.Verify(decoded)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureClaims, Err: err}
	}

	user, err := deps.ResolveUser(ctx, claims.Data.User.ID)
	if err != nil {
		failure := ValidateFailureDirectory
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			failure = ValidateFailureUnknownUser
		}
		return ValidateResult{Failure: failure, Err: err, Claims: claims}
	}

	if err := deps.CheckContext(claims, in.IP, in.Device); err != nil {
		return ValidateResult{Failure: ValidateFailureContext, Err: err, Claims: claims, User: user}
	}

	pat := claims.Data.User.PAT
	if pat == "" {
		return ValidateResult{Failure: ValidateFailureRevoked, Err: deps.RevokedErr, Claims: claims, User: user}
	}
	active, err := deps.SessionStore.Active(ctx, claims.Data.User.ID, pat)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureStore, Err: err, Claims: claims, User: user}
	}
	if !active {
		return ValidateResult{Failure: ValidateFailureRevoked, Err: deps.RevokedErr, Claims: claims, User: user}
	}

	return ValidateResult{Claims: claims, User: user}
}
