// Package retention schedules tombstone purges. Deleted messages stay in
// the log as tombstones so references degrade instead of breaking; after
// the configured period the purger removes tombstones older than the
// cutoff along with their locator index entries.
package retention

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"chatdb/pkg/config"
	"chatdb/pkg/logger"
	"chatdb/pkg/state"
	"chatdb/pkg/store"
)

var (
	storedEff   *config.EffectiveConfigResult
	storedStore *store.Store
)

// SetRuntime stores the effective config and store so tests or admin
// triggers can invoke retention runs on demand.
func SetRuntime(eff config.EffectiveConfigResult, s *store.Store) {
	storedEff = &eff
	storedStore = s
}

// RunImmediate triggers a single retention run using the stored runtime.
func RunImmediate() error {
	if storedEff == nil || storedStore == nil {
		return fmt.Errorf("no runtime registered for retention run")
	}
	if state.PathsVar.Retention == "" {
		return fmt.Errorf("state paths not initialized")
	}
	return runOnce(context.Background(), *storedEff, storedStore, state.PathsVar.Retention)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult, s *store.Store) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// lock and run artifacts live under <DBPath>/state/retention
	retentionPath := state.PathsVar.Retention
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", zap.String("path", retentionPath), zap.Error(err))
		return nil, err
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", zap.String("cron", ret.Cron))
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", zap.String("cron", cronExpr), zap.Duration("period", ret.Period.Duration()), zap.String("path", retentionPath))
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, s, retentionPath, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, supporting full cron syntax.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, s *store.Store, retentionPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", zap.String("cron", cronExpr), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := runOnce(ctx, eff, s, retentionPath); err != nil {
				logger.Error("retention_run_error", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// runOnce performs a single purge pass. A lock file guards against
// overlapping runs; a stale lock older than an hour is taken over.
func runOnce(ctx context.Context, eff config.EffectiveConfigResult, s *store.Store, retentionPath string) error {
	ret := eff.Config.Retention

	lockPath := retentionPath + "/purge.lock"
	if fi, err := os.Stat(lockPath); err == nil {
		if time.Since(fi.ModTime()) < time.Hour {
			logger.Warn("retention_locked", zap.String("path", lockPath))
			return nil
		}
		_ = os.Remove(lockPath)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Warn("retention_lock_failed", zap.Error(err))
		return nil
	}
	f.Close()
	defer os.Remove(lockPath)

	period := ret.Period.Duration()
	if min := ret.MinPeriod.Duration(); min > 0 && period < min {
		period = min
	}
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}
	batch := ret.BatchSize
	if batch <= 0 {
		batch = 500
	}

	cutoff := time.Now().UTC().Add(-period).UnixNano()
	start := time.Now()
	n, err := s.PurgeTombstones(ctx, cutoff, batch, ret.DryRun)
	if err != nil {
		return err
	}
	logger.Info("retention_run_complete",
		zap.Int("purged", n),
		zap.Bool("dry_run", ret.DryRun),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
