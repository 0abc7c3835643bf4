package jwt

import "errors"

var (
	// ErrDecode is returned when a segment is not valid base64url.
	ErrDecode = errors.New("base64url decode failed")
	// ErrMalformedToken is returned when a token is not three decodable segments.
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidPrefix is returned when a configured token prefix is missing.
	ErrInvalidPrefix = errors.New("token prefix mismatch")
	// ErrMalformedHeader is returned when typ or alg do not match the configuration.
	ErrMalformedHeader = errors.New("malformed token header")
	// ErrUnsupportedAlgorithm is returned for algorithms outside the allow-list.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	// ErrBadSignature is returned when the recomputed signature does not match.
	ErrBadSignature = errors.New("token signature mismatch")
	// ErrExpired is returned when exp is missing or in the past.
	ErrExpired = errors.New("token expired")
	// ErrIssuerMismatch is returned when iss differs from the expected issuer.
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	// ErrMissingSubject is returned when data.user.id is absent.
	ErrMissingSubject = errors.New("token subject missing")
	// ErrContextMismatch is returned when ip or device differ from issuance.
	ErrContextMismatch = errors.New("token context mismatch")
	// ErrInvalidKey is returned when key material cannot be used for the algorithm.
	ErrInvalidKey = errors.New("invalid key for signing algorithm")
	// ErrInvalidClaims is returned when nbf <= iat <= exp does not hold at issuance.
	ErrInvalidClaims = errors.New("invalid claim timing")
)
