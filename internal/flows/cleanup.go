package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/patAuth/session"
)

type CleanupSessionStore interface {
	Users(ctx context.Context, cursor string, limit int) ([]string, error)
	Prune(ctx context.Context, uid string, now int64) (session.DeleteReport, error)
	DeleteAll(ctx context.Context, uid string) (session.DeleteReport, error)
}

// CleanupDeps captures batch cleanup dependencies.
type CleanupDeps struct {
	Now          func() time.Time
	SessionStore CleanupSessionStore
	// Progress, when set, is called after every page.
	Progress func(CleanupResult)
	// Failed is called for each user whose cleanup failed.
	Failed func(uid string, err error)
}

// CleanupResult aggregates what a cleanup pass removed.
type CleanupResult struct {
	Batches       int
	Users         int
	Tokens        int
	RefreshTokens int
	Failures      int
	Err           error
}

// RunCleanup pages the users index and prunes expired entries of each user.
// Per-user failures are counted and skipped. A failure to read a page ends
// the pass with Err set.
func RunCleanup(ctx context.Context, batchSize int, deps CleanupDeps) CleanupResult {
	now := deps.Now().Unix()
	return walkUsers(ctx, batchSize, deps, func(uid string) (session.DeleteReport, error) {
		return deps.SessionStore.Prune(ctx, uid, now)
	})
}

// RunWipe deletes every session of every user.
func RunWipe(ctx context.Context, batchSize int, deps CleanupDeps) CleanupResult {
	return walkUsers(ctx, batchSize, deps, func(uid string) (session.DeleteReport, error) {
		return deps.SessionStore.DeleteAll(ctx, uid)
	})
}

func walkUsers(ctx context.Context, batchSize int, deps CleanupDeps, each func(string) (session.DeleteReport, error)) CleanupResult {
	var out CleanupResult
	if batchSize <= 0 {
		batchSize = 1
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		users, err := deps.SessionStore.Users(ctx, cursor, batchSize)
		if err != nil {
			out.Err = err
			return out
		}
		if len(users) == 0 {
			return out
		}

		out.Batches++
		for _, uid := range users {
			out.Users++
			report, err := each(uid)
			if err != nil {
				out.Failures++
				if deps.Failed != nil {
					deps.Failed(uid, err)
				}
				continue
			}
			out.Tokens += report.Tokens
			out.RefreshTokens += report.RefreshTokens
		}
		if deps.Progress != nil {
			deps.Progress(out)
		}

		if len(users) < batchSize {
			return out
		}
		cursor = users[len(users)-1]
	}
}
