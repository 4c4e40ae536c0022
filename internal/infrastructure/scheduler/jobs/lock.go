// Package jobs contains the scheduled progression batches.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/cardquest/progression/pkg/logger"
)

// ErrBatchAborted is returned by a job whose batch stopped before the last
// user. The partial stats are still available through LastStats.
var ErrBatchAborted = errors.New("batch aborted")

// Lock is a held distributed lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out per-job locks. ok is false when another replica holds it.
type Locker interface {
	TryLock(ctx context.Context, job string) (lock Lock, ok bool, err error)
}

// withLock runs fn under the job lock. A nil locker runs fn directly.
// Losing the race is not an error: the run is skipped and ran reports false.
func withLock(ctx context.Context, locker Locker, job string, log *logger.Logger, fn func(ctx context.Context) error) (ran bool, err error) {
	if locker == nil {
		return true, fn(ctx)
	}

	lock, ok, err := locker.TryLock(ctx, job)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Info("another worker holds the job lock, skipping run")
		return false, nil
	}
	defer func() {
		// release on a fresh context: ctx may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := lock.Release(rctx); rerr != nil {
			log.Warn("job lock release failed", logger.Err(rerr))
		}
	}()

	return true, fn(ctx)
}

// withTimeout bounds a run; zero means no bound.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
