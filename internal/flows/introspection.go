package flows

import (
	"context"

	"github.com/MrEthical07/patAuth/session"
)

const listUserBatch = 100

type IntrospectionSessionStore interface {
	Users(ctx context.Context, cursor string, limit int) ([]string, error)
	Load(ctx context.Context, uid string) (*session.Index, error)
}

type IntrospectionDeps struct {
	SessionStore IntrospectionSessionStore
}

// ListInput selects one page of sessions. An empty UserID lists every user
// in lexical user order; each user's sessions are oldest first.
type ListInput struct {
	UserID string
	Offset int
	Limit  int
}

// ListedSession is a session with the expiration of its linked refresh
// token, zero when it has none.
type ListedSession struct {
	*session.Record
	RefreshExpiresAt int64
}

// ListResult is one page plus the total number of sessions matched.
type ListResult struct {
	Sessions []ListedSession
	Total    int
}

func listed(ix *session.Index) []ListedSession {
	out := make([]ListedSession, 0, ix.Len())
	for _, rec := range ix.Records() {
		ls := ListedSession{Record: rec}
		if pat, ok := ix.RefreshPAT(rec.RefreshToken); ok && pat == rec.PAT {
			ls.RefreshExpiresAt, _ = ix.RefreshExpiry(rec.RefreshToken)
		}
		out = append(out, ls)
	}
	return out
}

func RunListSessions(ctx context.Context, in ListInput, deps IntrospectionDeps) (ListResult, error) {
	var all []ListedSession
	if in.UserID != "" {
		ix, err := deps.SessionStore.Load(ctx, in.UserID)
		if err != nil {
			return ListResult{}, err
		}
		all = listed(ix)
	} else {
		cursor := ""
		for {
			users, err := deps.SessionStore.Users(ctx, cursor, listUserBatch)
			if err != nil {
				return ListResult{}, err
			}
			for _, uid := range users {
				ix, err := deps.SessionStore.Load(ctx, uid)
				if err != nil {
					return ListResult{}, err
				}
				all = append(all, listed(ix)...)
			}
			if len(users) < listUserBatch {
				break
			}
			cursor = users[len(users)-1]
		}
	}

	out := ListResult{Total: len(all)}
	if in.Offset < 0 {
		in.Offset = 0
	}
	if in.Offset >= len(all) {
		return out, nil
	}
	end := len(all)
	if in.Limit > 0 && in.Offset+in.Limit < end {
		end = in.Offset + in.Limit
	}
	out.Sessions = all[in.Offset:end]
	return out, nil
}
