package command

import (
	"context"
	"time"

	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE STREAKS (nightly)
// For the reference day R (the day before the run date) every user gets one
// of: reset (R not met), increment (R and R-1 met), start-new (R met, R-1 not).
// Users whose history already covers R are skipped, so reruns are harmless.
// ══════════════════════════════════════════════════════════════════════════════

// StreakBatchStats contains the outcome of a nightly run.
type StreakBatchStats struct {
	RunDate       string
	ReferenceDate string
	TotalUsers    int
	Processed     int
	Incremented   int
	Reset         int
	Started       int
	Skipped       int
	BonusesIssued int
	Errors        []UserError
	AbortReason   AbortReason
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Aborted reports whether the run stopped early.
func (s *StreakBatchStats) Aborted() bool { return s.AbortReason != AbortNone }

// Duration returns how long the run took.
func (s *StreakBatchStats) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// UserLister enumerates users for batch jobs.
type UserLister interface {
	GetAllUserIDs(ctx context.Context) ([]string, error)
}

// UpdateAllStreaks reconciles every user's streak for the day before runDate.
// An empty runDate means today in the configured timezone.
//
// Per-user failures are collected in Errors. Resource exhaustion stops the
// run and returns the partial stats without an error. Failing to list users
// returns an ErrCriticalFailure error.
func (t *StreakTracker) UpdateAllStreaks(ctx context.Context, users UserLister, runner *BatchRunner, runDate string) (*StreakBatchStats, error) {
	const op = "UpdateAllStreaks"

	if runDate == "" {
		runDate = t.calendar.Today()
	}
	ref, err := timeutil.PreviousDate(runDate)
	if err != nil {
		return nil, shared.InvalidInput("streak", op, "invalid run date %q", runDate)
	}
	dayBefore, _ := timeutil.PreviousDate(ref)

	stats := &StreakBatchStats{RunDate: runDate, ReferenceDate: ref, StartedAt: t.calendar.Now()}
	log := t.log.With(logger.Operation(op), logger.Date(ref))

	ids, err := users.GetAllUserIDs(ctx)
	if err != nil {
		log.Error("cannot enumerate users", logger.Err(err))
		return nil, shared.WrapError("streak", op, shared.ErrCriticalFailure, "cannot enumerate users", err)
	}
	stats.TotalUsers = len(ids)

	log.Info("streak reconciliation started", logger.Int("users", len(ids)))

	outcome := runner.Run(ctx, ids, func(ctx context.Context, userID string) error {
		kind, res, err := t.reconcileUser(ctx, userID, ref, dayBefore)
		if err != nil {
			return err
		}
		switch kind {
		case streak.KindIncrement:
			stats.Incremented++
		case streak.KindReset:
			stats.Reset++
		case streak.KindStartNew:
			stats.Started++
		default:
			stats.Skipped++
		}
		if res != nil && res.Bonus != nil && res.Bonus.Applied {
			stats.BonusesIssued++
		}
		return nil
	})

	stats.Processed = outcome.Processed
	stats.Errors = outcome.Errors
	stats.AbortReason = outcome.AbortReason
	stats.FinishedAt = t.calendar.Now()

	log.Info("streak reconciliation finished",
		logger.Int("processed", stats.Processed),
		logger.Int("incremented", stats.Incremented),
		logger.Int("reset", stats.Reset),
		logger.Int("started", stats.Started),
		logger.Int("skipped", stats.Skipped),
		logger.Int("errors", len(stats.Errors)),
		logger.String("abort_reason", string(stats.AbortReason)),
		logger.Latency(stats.Duration()),
	)

	return stats, nil
}

// reconcileUser decides and applies one user's transition for ref.
// An empty kind means the user was skipped. The decision is remade on every
// reload, so a request that processed a newer day in between wins.
func (t *StreakTracker) reconcileUser(ctx context.Context, userID, ref, dayBefore string) (streak.Kind, *StreakResult, error) {
	res, err := t.update(ctx, userID, ref, func(ctx context.Context, data *streak.Data) (transitionFunc, error) {
		if data.ProcessedOnOrAfter(ref) {
			return nil, nil
		}

		met, err := t.activityRepo.GoalMetDates(ctx, userID, []string{ref, dayBefore})
		if err != nil {
			return nil, err
		}

		switch {
		case !met[ref] && !data.IsActive():
			return nil, nil
		case !met[ref]:
			return (*streak.Data).Reset, nil
		case met[dayBefore]:
			return (*streak.Data).Increment, nil
		default:
			return (*streak.Data).StartNew, nil
		}
	})
	if err != nil {
		return "", nil, err
	}
	return res.Kind, res, nil
}
