package federated

import "errors"

var (
	// ErrVerification is returned when the provider could not be reached or
	// the call timed out.
	ErrVerification = errors.New("provider token verification failed")
	// ErrInvalidToken is returned when the provider rejects the token or
	// answers with an unusable body.
	ErrInvalidToken = errors.New("invalid provider token")
	// ErrNoUsername is returned when no unique username could be derived.
	ErrNoUsername = errors.New("no unique username available")
)
