package session

// Index is the in-memory view of one user's session state as read by
// [Store.Load]. byPAT and byRefresh stay consistent: a refresh token linked
// to a PAT is found from either side. Mutations go through the Store scripts,
// never through an Index.
//
// An Index is not safe for concurrent use.
type Index struct {
	order     []string
	byPAT     map[string]*Record
	byRefresh map[string]string
	refresh   map[string]int64
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byPAT:     make(map[string]*Record),
		byRefresh: make(map[string]string),
		refresh:   make(map[string]int64),
	}
}

// Len returns the number of PAT sessions.
func (ix *Index) Len() int { return len(ix.order) }

// Has reports whether pat is in the session set.
func (ix *Index) Has(pat string) bool {
	_, ok := ix.byPAT[pat]
	return ok
}

// Records returns sessions oldest first.
func (ix *Index) Records() []*Record {
	out := make([]*Record, 0, len(ix.order))
	for _, pat := range ix.order {
		out = append(out, ix.byPAT[pat])
	}
	return out
}

// Add appends rec as the newest session.
func (ix *Index) Add(rec *Record) error {
	if rec == nil || rec.PAT == "" {
		return ErrSessionNotFound
	}
	if ix.Has(rec.PAT) {
		return ErrPATCollision
	}
	ix.byPAT[rec.PAT] = rec
	ix.order = append(ix.order, rec.PAT)
	if rec.RefreshToken != "" {
		ix.byRefresh[rec.RefreshToken] = rec.PAT
	}
	return nil
}

// PutRefresh records a refresh token loaded from the store. pat may name a
// session that has already been pruned.
func (ix *Index) PutRefresh(token, pat string, exp int64) {
	ix.refresh[token] = exp
	if pat != "" {
		ix.byRefresh[token] = pat
	}
}

// RefreshPAT returns the PAT a refresh token is bound to.
func (ix *Index) RefreshPAT(token string) (string, bool) {
	pat, ok := ix.byRefresh[token]
	return pat, ok
}

// RefreshExpiry returns the expiration of a stored refresh token.
func (ix *Index) RefreshExpiry(token string) (int64, bool) {
	exp, ok := ix.refresh[token]
	return exp, ok
}

// EvictionPlan returns the oldest PATs that must go so one more session fits
// under max. A negative max means unlimited.
func (ix *Index) EvictionPlan(max int) []string {
	if max < 0 || len(ix.order) < max {
		return nil
	}
	n := len(ix.order) - max + 1
	if max == 0 {
		n = len(ix.order)
	}
	out := make([]string, n)
	copy(out, ix.order[:n])
	return out
}
