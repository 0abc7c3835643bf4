package patAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/patAuth/jwt"
)

// User is the directory view of an account as the engine needs it.
type User struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
}

// NewUser describes an account the engine asks a [ProviderDirectory] to
// create during federated sign-in.
type NewUser struct {
	Username    string
	Email       string
	DisplayName string
	FirstName   string
	LastName    string
	// Password is random; federated users sign in through the provider.
	Password string
}

// UserDirectory resolves users. Implementations return [ErrUserNotFound]
// for misses; any other error is treated as a directory outage.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByLogin(ctx context.Context, login string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	// VerifyCredentials returns ErrInvalidCredentials or ErrUserNotFound on failure.
	VerifyCredentials(ctx context.Context, login, password string) (User, error)
}

// ProviderIdentity links a local user to an identity-provider subject.
type ProviderIdentity struct {
	Provider string
	Subject  string
	Email    string
	Linked   bool
}

// ProviderDirectory is the optional directory extension used by federated
// sign-in. ProviderIdentity returns [ErrProviderIdentityNotFound] for a user
// without a link; like [ErrUserNotFound] it is not an outage.
type ProviderDirectory interface {
	FindByProviderSubject(ctx context.Context, provider, subject string) (User, error)
	LinkProviderIdentity(ctx context.Context, userID string, identity ProviderIdentity) error
	ProviderIdentity(ctx context.Context, userID, provider string) (ProviderIdentity, error)
	CreateUser(ctx context.Context, user NewUser) (User, error)
}

// ClientContext is the network context a token is bound to.
type ClientContext struct {
	IP     string
	Device string
}

// IssuedToken is the result of [Engine.IssueToken].
type IssuedToken struct {
	Token     string
	PAT       string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Evicted counts the sessions removed to honour the session cap.
	Evicted int
}

// TokenPair is an access token with the refresh token linked to its PAT.
type TokenPair struct {
	Token        string
	RefreshToken string
	PAT          string
	UserID       string
	// Reused is set when a login kept the caller's existing session.
	Reused bool
}

// DestroyReport counts what a revocation removed.
type DestroyReport struct {
	Tokens        int
	RefreshTokens int
}

// CleanupReport aggregates one cleanup or wipe pass.
type CleanupReport struct {
	Batches       int
	Users         int
	Tokens        int
	RefreshTokens int
	Failures      int
	Duration      time.Duration
}

// AuthState is the outcome class of [Engine.Authenticate].
type AuthState int

const (
	// AuthPassThrough means the request carried no bearer credential.
	AuthPassThrough AuthState = iota
	// AuthRejected means a bearer credential was offered and refused.
	AuthRejected
	// AuthAuthenticated means the bearer credential resolved to a user.
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

// AuthResult is returned by [Engine.Authenticate]. Err is set only when
// State is AuthRejected and is always an [*AuthError].
type AuthResult struct {
	State  AuthState
	User   User
	PAT    string
	Token  string
	Claims *jwt.Claims
	Err    error
}

// FederatedResult is returned by [Engine.AuthenticateWithProvider].
type FederatedResult struct {
	Token           string
	RefreshToken    string
	PAT             string
	User            User
	ProviderSubject string
	Created         bool
	Linked          bool
}

// ProviderUserInfo backs the federated user-info endpoint.
type ProviderUserInfo struct {
	UserID          string
	Username        string
	Email           string
	DisplayName     string
	ProviderSubject string
	ProviderEmail   string
	Linked          bool
}

// SessionInfo is a listing row for one PAT session.
type SessionInfo struct {
	UserID     string
	PAT        string
	Token      string
	Created    time.Time
	LastUsed   time.Time
	ExpiresAt  time.Time
	HasRefresh bool

	// RefreshExpiresAt is zero when HasRefresh is false.
	RefreshExpiresAt time.Time
}

// SessionPage is one page of [Engine.ListSessions].
type SessionPage struct {
	Sessions []SessionInfo
	Total    int
}

// TokenView is the decoded, unverified content of a token. Payload keys
// under data.user are flattened to "data.user.<key>".
type TokenView struct {
	Header  map[string]any
	Payload map[string]any
}

// RateLimitPolicy is one row of the route rate-limit table.
type RateLimitPolicy struct {
	Route  string
	Limit  int
	Window time.Duration
}

// RateLimitDecision is the outcome of [Engine.AllowRequest].
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// RandomSource supplies random bytes for PAT ids and refresh tokens.
type RandomSource interface {
	Read(p []byte) (int, error)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

/*
====================================
EXTENSION POINTS
====================================
*/

// ClaimEnricher may add fields to data.user and adjust iss, nbf and exp
// before a token is signed. The identity fields and iat are restored after
// it returns and nbf <= iat <= exp is re-checked.
type ClaimEnricher interface {
	EnrichClaims(ctx context.Context, user User, claims *jwt.Claims) error
}

// ClaimEnricherFunc adapts a function to [ClaimEnricher].
type ClaimEnricherFunc func(ctx context.Context, user User, claims *jwt.Claims) error

func (f ClaimEnricherFunc) EnrichClaims(ctx context.Context, user User, claims *jwt.Claims) error {
	return f(ctx, user, claims)
}

// LifecycleEvent names an account change that may revoke sessions.
type LifecycleEvent string

const (
	EventLogout         LifecycleEvent = "logout"
	EventPasswordChange LifecycleEvent = "password_change"
	EventPasswordReset  LifecycleEvent = "password_reset"
	EventEmailChange    LifecycleEvent = "email_change"
	EventProfileUpdate  LifecycleEvent = "profile_update"
	EventUserDeleted    LifecycleEvent = "user_deleted"
)

// RevocationPolicy decides whether a lifecycle event destroys a user's
// sessions. Without a policy every event revokes.
type RevocationPolicy interface {
	ShouldRevoke(ctx context.Context, userID string, event LifecycleEvent) bool
}

// TokenPrefixPolicy supplies the prefix prepended to issued tokens and
// required on presented ones.
type TokenPrefixPolicy interface {
	TokenPrefix() string
}

// AlgorithmPolicy resolves the signing algorithm at sign and verify time.
type AlgorithmPolicy = jwt.AlgorithmPolicy

// SessionLimitPolicy overrides the session cap per user. -1 means unlimited.
type SessionLimitPolicy interface {
	MaxSessions(ctx context.Context, user User) int
}
