package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/patAuth/jwt"
	"github.com/MrEthical07/patAuth/session"
)

// maxPATAttempts bounds PAT regeneration on collision.
const maxPATAttempts = 5

// IssueFailureKind classifies issue flow failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureLoad
	IssueFailurePATID
	IssueFailureEnrich
	IssueFailureClaims
	IssueFailureSign
	IssueFailurePersist
	IssueFailureCollision
)

// IssueInput is one access-token request for an already resolved user.
type IssueInput struct {
	User   Identity
	IP     string
	Device string
}

// IssueResult carries the minted token or failure metadata.
type IssueResult struct {
	Failure IssueFailureKind
	Err     error
	Token   string
	PAT     string
	Claims  *jwt.Claims
	Record  *session.Record
	Evicted int
}

type IssueSessionStore interface {
	Load(ctx context.Context, uid string) (*session.Index, error)
	Create(ctx context.Context, rec *session.Record, evict []string) (int, error)
}

// IssueDeps captures access-token issuance dependencies.
type IssueDeps struct {
	Now          func() time.Time
	AccessTTL    func() time.Duration
	Issuer       func() string
	MaxSessions  func(context.Context, Identity) int
	NewPATID     func() (string, error)
	Enrich       func(context.Context, Identity, *jwt.Claims) error
	Sign         func(jwt.Claims) (string, error)
	SessionStore IssueSessionStore
}

// RunIssue mints an access token bound to a fresh PAT and appends it to the
// user's session set, evicting the oldest sessions when the cap is reached.
//
// The load and the append are separate round trips, so two concurrent issues
// for one user may transiently exceed the cap by one.
func RunIssue(ctx context.Context, in IssueInput, deps IssueDeps) IssueResult {
	ix, err := deps.SessionStore.Load(ctx, in.User.ID)
	if err != nil {
		return IssueResult{Failure: IssueFailureLoad, Err: err}
	}

	limit := -1
	if deps.MaxSessions != nil {
		limit = deps.MaxSessions(ctx, in.User)
	}
	evict := ix.EvictionPlan(limit)

	var lastErr error
	for attempt := 0; attempt < maxPATAttempts; attempt++ {
		pat, err := deps.NewPATID()
		if err != nil {
			return IssueResult{Failure: IssueFailurePATID, Err: err}
		}
		if ix.Has(pat) {
			lastErr = session.ErrPATCollision
			continue
		}

		claims, failure, err := buildClaims(ctx, in, pat, deps)
		if err != nil {
			return IssueResult{Failure: failure, Err: err, PAT: pat}
		}

		token, err := deps.Sign(*claims)
		if err != nil {
			return IssueResult{Failure: IssueFailureSign, Err: err, PAT: pat}
		}

		rec := &session.Record{
			PAT:       pat,
			UserID:    in.User.ID,
			Token:     token,
			Created:   claims.IssuedAt,
			ExpiresAt: claims.ExpiresAt,
		}
		evicted, err := deps.SessionStore.Create(ctx, rec, evict)
		if err != nil {
			if errors.Is(err, session.ErrPATCollision) {
				lastErr = err
				continue
			}
			return IssueResult{Failure: IssueFailurePersist, Err: err, PAT: pat}
		}

		return IssueResult{
			Token:   token,
			PAT:     pat,
			Claims:  claims,
			Record:  rec,
			Evicted: evicted,
		}
	}

	return IssueResult{Failure: IssueFailureCollision, Err: lastErr}
}

func buildClaims(ctx context.Context, in IssueInput, pat string, deps IssueDeps) (*jwt.Claims, IssueFailureKind, error) {
	now := deps.Now().Unix()
	claims := &jwt.Claims{
		Issuer:    deps.Issuer(),
		IssuedAt:  now,
		NotBefore: now,
		ExpiresAt: now + int64(deps.AccessTTL()/time.Second),
	}
	fixed := jwt.UserClaims{
		ID:       in.User.ID,
		Username: in.User.Username,
		IP:       in.IP,
		Device:   in.Device,
		PAT:      pat,
	}
	claims.Data.User = fixed

	if deps.Enrich != nil {
		if err := deps.Enrich(ctx, in.User, claims); err != nil {
			return nil, IssueFailureEnrich, err
		}
		// Enrichers may add fields and move iss/nbf/exp; identity and iat stay.
		extra := claims.Data.User.Extra
		claims.Data.User = fixed
		claims.Data.User.Extra = extra
		claims.IssuedAt = now
	}

	if err := claims.CheckTiming(); err != nil {
		return nil, IssueFailureClaims, err
	}
	return claims, IssueFailureNone, nil
}
