package patAuth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/internal/flows"
)

// CleanupExpired pages the users index and removes expired access sessions
// and expired refresh tokens. Users whose cleanup fails are counted in
// Failures and skipped. batchSize <= 0 uses Config.Cleanup.BatchSize.
//
// progress, when non-nil, is called after every page with the running
// totals.
//
//	Performance: one Lua script per user, one ZRANGEBYLEX per page.
func (e *Engine) CleanupExpired(ctx context.Context, batchSize int, progress func(CleanupReport)) (CleanupReport, error) {
	return e.runCleanup(ctx, "cleanup", batchSize, progress, flows.RunCleanup)
}

// WipeAll deletes every session and refresh token of every user.
func (e *Engine) WipeAll(ctx context.Context, batchSize int, progress func(CleanupReport)) (CleanupReport, error) {
	return e.runCleanup(ctx, "wipe", batchSize, progress, flows.RunWipe)
}

func (e *Engine) runCleanup(
	ctx context.Context,
	kind string,
	batchSize int,
	progress func(CleanupReport),
	run func(context.Context, int, flows.CleanupDeps) flows.CleanupResult,
) (CleanupReport, error) {
	if e == nil || !e.flows.Initialized() {
		return CleanupReport{}, ErrEngineNotReady
	}
	if batchSize <= 0 {
		batchSize = e.config.Cleanup.BatchSize
	}

	start := time.Now()
	deps := e.flowDeps.Cleanup
	if progress != nil {
		deps.Progress = func(r flows.CleanupResult) {
			progress(cleanupReport(r, time.Since(start)))
		}
	}

	res := run(ctx, batchSize, deps)
	report := cleanupReport(res, time.Since(start))
	e.metricAdd(MetricCleanupRemoved, report.Tokens)

	fields := []zap.Field{
		zap.String("kind", kind),
		zap.Int("batch_size", batchSize),
		zap.Int("batches", report.Batches),
		zap.Int("users", report.Users),
		zap.Int("tokens", report.Tokens),
		zap.Int("refresh_tokens", report.RefreshTokens),
		zap.Int("failures", report.Failures),
		zap.Duration("duration", report.Duration),
	}
	if res.Err != nil {
		e.logger.Warn("session cleanup aborted", append(fields, zap.Error(res.Err))...)
		return report, res.Err
	}
	e.logger.Info("session cleanup finished", fields...)
	return report, nil
}

func cleanupReport(r flows.CleanupResult, d time.Duration) CleanupReport {
	return CleanupReport{
		Batches:       r.Batches,
		Users:         r.Users,
		Tokens:        r.Tokens,
		RefreshTokens: r.RefreshTokens,
		Failures:      r.Failures,
		Duration:      d,
	}
}
