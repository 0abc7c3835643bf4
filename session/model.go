package session

// Record is one PAT session. Times are unix seconds; LastUsed is zero until
// the token is first used.
type Record struct {
	PAT          string
	UserID       string
	Token        string
	Created      int64
	LastUsed     int64
	ExpiresAt    int64
	RefreshToken string
}

// Expired reports whether the access token is past its expiration at now.
func (r *Record) Expired(now int64) bool {
	return now > r.ExpiresAt
}

// RefreshBinding is the individual lookup record of a refresh token.
type RefreshBinding struct {
	Token     string
	UserID    string
	PAT       string
	ExpiresAt int64
}

// Expired reports whether the refresh token is past its expiration at now.
func (b *RefreshBinding) Expired(now int64) bool {
	return b.ExpiresAt < now
}

// DeleteReport counts what a bulk delete removed.
type DeleteReport struct {
	Tokens        int
	RefreshTokens int
}
