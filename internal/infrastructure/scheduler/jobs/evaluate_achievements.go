package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/application/saga"
	"github.com/cardquest/progression/pkg/logger"
)

// AchievementSweeper evaluates every user's achievements.
type AchievementSweeper interface {
	EvaluateAllUsers(ctx context.Context, users command.UserLister, runner *command.BatchRunner) (*saga.EvaluationStats, error)
}

// EvaluateAchievementsConfig contains configuration for the job.
type EvaluateAchievementsConfig struct {
	Batch   command.BatchConfig
	Timeout time.Duration
}

// DefaultEvaluateAchievementsConfig returns sensible defaults.
func DefaultEvaluateAchievementsConfig() EvaluateAchievementsConfig {
	return EvaluateAchievementsConfig{
		Batch:   command.DefaultBatchConfig(),
		Timeout: 50 * time.Minute,
	}
}

// EvaluateAchievementsJob catches unlocks missed by the per-request checks,
// e.g. after a catalog import added new achievements.
type EvaluateAchievementsJob struct {
	evaluator AchievementSweeper
	users     command.UserLister
	locker    Locker
	config    EvaluateAchievementsConfig
	log       *logger.Logger

	lastStats atomic.Pointer[saga.EvaluationStats]
}

// NewEvaluateAchievementsJob creates the job.
func NewEvaluateAchievementsJob(
	evaluator AchievementSweeper,
	users command.UserLister,
	locker Locker,
	config EvaluateAchievementsConfig,
	log *logger.Logger,
) *EvaluateAchievementsJob {
	if log == nil {
		log = logger.Default()
	}
	return &EvaluateAchievementsJob{
		evaluator: evaluator,
		users:     users,
		locker:    locker,
		config:    config,
		log:       log.With(logger.Job("evaluate_achievements")),
	}
}

func (j *EvaluateAchievementsJob) Name() string { return "evaluate_achievements" }

func (j *EvaluateAchievementsJob) Description() string {
	return "Evaluates the achievement catalog for every user"
}

// Run executes the job.
func (j *EvaluateAchievementsJob) Run(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, j.config.Timeout)
	defer cancel()

	_, err := withLock(ctx, j.locker, j.Name(), j.log, func(ctx context.Context) error {
		runner := command.NewBatchRunner(j.config.Batch, j.log)

		stats, err := j.evaluator.EvaluateAllUsers(ctx, j.users, runner)
		if stats != nil {
			j.lastStats.Store(stats)
		}
		if err != nil {
			return err
		}
		if stats.Aborted() {
			return fmt.Errorf("%w: %s after %d of %d users", ErrBatchAborted, stats.AbortReason, stats.Processed, stats.TotalUsers)
		}
		return nil
	})
	return err
}

// LastStats returns statistics from the last run.
func (j *EvaluateAchievementsJob) LastStats() *saga.EvaluationStats {
	return j.lastStats.Load()
}
