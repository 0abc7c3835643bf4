package flows

import (
	"context"
	"strings"

	"github.com/MrEthical07/patAuth/jwt"
)

// AuthState is the outcome of authenticating one request.
type AuthState int

const (
	// AuthPassThrough means no bearer credential was offered; the host
	// decides what an anonymous request may do.
	AuthPassThrough AuthState = iota
	AuthRejected
	AuthAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthPassThrough:
		return "pass_through"
	case AuthRejected:
		return "rejected"
	case AuthAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// AuthenticateInput is the raw Authorization header and caller context.
type AuthenticateInput struct {
	Authorization string
	IP            string
	Device        string
}

// AuthenticateResult carries the state plus the validation detail behind it.
type AuthenticateResult struct {
	State      AuthState
	Token      string
	Validation ValidateResult
}

// AuthenticateDeps captures bearer authentication dependencies.
type AuthenticateDeps struct {
	Prefix   func() string
	Validate ValidateDeps
	// Touch records usage of an authenticated PAT. Failures are the
	// callee's to log; they never reject the request.
	Touch func(ctx context.Context, uid, pat string)
}

// ParseBearer extracts the credential of a "Bearer <token>" header. The
// scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// RunAuthenticate resolves the Authorization header to one of the three
// states.
func RunAuthenticate(ctx context.Context, in AuthenticateInput, deps AuthenticateDeps) AuthenticateResult {
	if in.Authorization == "" {
		return AuthenticateResult{State: AuthPassThrough}
	}
	token, ok := ParseBearer(in.Authorization)
	if !ok {
		return AuthenticateResult{State: AuthPassThrough}
	}

	prefix := ""
	if deps.Prefix != nil {
		prefix = deps.Prefix()
	}
	if prefix != "" && !strings.HasPrefix(token, prefix) {
		return AuthenticateResult{
			State:      AuthRejected,
			Token:      token,
			Validation: ValidateResult{Failure: ValidateFailureDecode, Err: jwt.ErrInvalidPrefix},
		}
	}
	if !jwt.LooksCompact(token, prefix) {
		return AuthenticateResult{
			State:      AuthRejected,
			Token:      token,
			Validation: ValidateResult{Failure: ValidateFailureDecode, Err: jwt.ErrMalformedToken},
		}
	}

	res := RunValidate(ctx, ValidateInput{Token: token, IP: in.IP, Device: in.Device}, deps.Validate)
	if res.Failure != ValidateFailureNone {
		return AuthenticateResult{State: AuthRejected, Token: token, Validation: res}
	}

	if deps.Touch != nil {
		deps.Touch(ctx, res.Claims.Data.User.ID, res.Claims.Data.User.PAT)
	}
	return AuthenticateResult{State: AuthAuthenticated, Token: token, Validation: res}
}
