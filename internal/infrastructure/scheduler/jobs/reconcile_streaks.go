package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE STREAKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StreakReconciler is the nightly streak batch.
type StreakReconciler interface {
	UpdateAllStreaks(ctx context.Context, users command.UserLister, runner *command.BatchRunner, runDate string) (*command.StreakBatchStats, error)
}

// ReconcileStreaksConfig contains configuration for the job.
type ReconcileStreaksConfig struct {
	Batch command.BatchConfig

	// Timeout is the maximum duration for one run.
	Timeout time.Duration
}

// DefaultReconcileStreaksConfig returns sensible defaults.
func DefaultReconcileStreaksConfig() ReconcileStreaksConfig {
	return ReconcileStreaksConfig{
		Batch:   command.DefaultBatchConfig(),
		Timeout: 2 * time.Hour,
	}
}

// ReconcileStreaksJob closes yesterday for every user: extends, restarts
// or resets their streak.
type ReconcileStreaksJob struct {
	tracker StreakReconciler
	users   command.UserLister
	locker  Locker
	config  ReconcileStreaksConfig
	log     *logger.Logger

	lastStats atomic.Pointer[command.StreakBatchStats]
}

// NewReconcileStreaksJob creates the job. locker may be nil on a single worker.
func NewReconcileStreaksJob(
	tracker StreakReconciler,
	users command.UserLister,
	locker Locker,
	config ReconcileStreaksConfig,
	log *logger.Logger,
) *ReconcileStreaksJob {
	if log == nil {
		log = logger.Default()
	}
	return &ReconcileStreaksJob{
		tracker: tracker,
		users:   users,
		locker:  locker,
		config:  config,
		log:     log.With(logger.Job("reconcile_streaks")),
	}
}

// Name returns the job name.
func (j *ReconcileStreaksJob) Name() string {
	return "reconcile_streaks"
}

// Description returns the job description.
func (j *ReconcileStreaksJob) Description() string {
	return "Closes the previous day for every user and updates their streak"
}

// Run executes the job for today's run date.
func (j *ReconcileStreaksJob) Run(ctx context.Context) error {
	return j.RunFor(ctx, "")
}

// RunFor executes the job as if run on runDate; empty means today.
func (j *ReconcileStreaksJob) RunFor(ctx context.Context, runDate string) error {
	ctx, cancel := withTimeout(ctx, j.config.Timeout)
	defer cancel()

	_, err := withLock(ctx, j.locker, j.Name(), j.log, func(ctx context.Context) error {
		runner := command.NewBatchRunner(j.config.Batch, j.log)

		stats, err := j.tracker.UpdateAllStreaks(ctx, j.users, runner, runDate)
		if stats != nil {
			j.lastStats.Store(stats)
		}
		if err != nil {
			return err
		}

		for _, ue := range stats.Errors {
			j.log.Warn("user not reconciled", logger.UserID(ue.UserID), logger.Err(ue.Err))
		}
		if stats.Aborted() {
			return fmt.Errorf("%w: %s after %d of %d users", ErrBatchAborted, stats.AbortReason, stats.Processed, stats.TotalUsers)
		}
		return nil
	})
	return err
}

// LastStats returns statistics from the last run, nil before the first one.
func (j *ReconcileStreaksJob) LastStats() *command.StreakBatchStats {
	return j.lastStats.Load()
}
