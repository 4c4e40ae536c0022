package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardquest/progression/internal/domain/activity"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/retry"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK TRACKER
// Consecutive-day state machine: NoStreak <-> Active(n).
// Every transition appends one history entry for its date, so replaying
// the same date is a no-op.
// ══════════════════════════════════════════════════════════════════════════════

// StreakResult describes the streak after an operation.
type StreakResult struct {
	UserID  string
	Date    string
	Changed bool
	Kind    streak.Kind // empty when unchanged
	Current int
	Longest int
	Bonus   *BonusResult
}

// BonusResult describes a granted milestone bonus.
type BonusResult struct {
	Streak  int
	XP      int
	Applied bool
}

// StreakTracker owns the streak state machine.
type StreakTracker struct {
	streakRepo   streak.Repository
	progressRepo progress.Repository
	activityRepo activity.Repository
	ledger       *XPLedger
	publisher    shared.EventPublisher
	calendar     *timeutil.Calendar
	retrier      *retry.Retrier
	log          *logger.Logger
}

// NewStreakTracker creates a new StreakTracker.
func NewStreakTracker(
	streakRepo streak.Repository,
	progressRepo progress.Repository,
	activityRepo activity.Repository,
	ledger *XPLedger,
	publisher shared.EventPublisher,
	calendar *timeutil.Calendar,
	log *logger.Logger,
) *StreakTracker {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if calendar == nil {
		calendar = timeutil.NewCalendar(nil, nil)
	}
	if log == nil {
		log = logger.Default()
	}
	return &StreakTracker{
		streakRepo:   streakRepo,
		progressRepo: progressRepo,
		activityRepo: activityRepo,
		ledger:       ledger,
		publisher:    publisher,
		calendar:     calendar,
		retrier:      retry.LedgerRetrier(shared.IsConcurrentModification),
		log:          log.Named("streak_tracker"),
	}
}

// WithRetrier replaces the retry policy for version conflicts.
func (t *StreakTracker) WithRetrier(r *retry.Retrier) *StreakTracker {
	t.retrier = r
	return t
}

// ─────────────────────────────────────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────────────────────────────────────

// IncrementStreak continues the chain for date. Calling it again for the
// same date returns the current state unchanged.
func (t *StreakTracker) IncrementStreak(ctx context.Context, userID, date string) (*StreakResult, error) {
	return t.transition(ctx, "IncrementStreak", userID, date, (*streak.Data).Increment)
}

// ResetStreak sets the streak to 0 for date. Longest is kept.
func (t *StreakTracker) ResetStreak(ctx context.Context, userID, date string) (*StreakResult, error) {
	return t.transition(ctx, "ResetStreak", userID, date, (*streak.Data).Reset)
}

// StartNewStreak begins a new chain at 1 for date.
func (t *StreakTracker) StartNewStreak(ctx context.Context, userID, date string) (*StreakResult, error) {
	return t.transition(ctx, "StartNewStreak", userID, date, (*streak.Data).StartNew)
}

type transitionFunc func(d *streak.Data, date string, at time.Time) (streak.Transition, error)

// decideFunc picks the transition for a freshly loaded state.
// A nil transitionFunc means there is nothing to do.
type decideFunc func(ctx context.Context, d *streak.Data) (transitionFunc, error)

func (t *StreakTracker) transition(ctx context.Context, op, userID, date string, fn transitionFunc) (*StreakResult, error) {
	if err := validateUserDate(op, userID, date); err != nil {
		return nil, err
	}
	return t.update(ctx, userID, date, func(context.Context, *streak.Data) (transitionFunc, error) {
		return fn, nil
	})
}

// update loads the state, decides and writes it guarded by the loaded
// version. A version conflict reloads and decides again, so a transition is
// never written over a state it was not computed from.
func (t *StreakTracker) update(ctx context.Context, userID, date string, decide decideFunc) (*StreakResult, error) {
	var (
		data *streak.Data
		tr   *streak.Transition
	)

	err := t.retrier.Do(ctx, func(ctx context.Context) error {
		tr = nil
		loaded, err := t.load(ctx, userID)
		if err != nil {
			return err
		}
		data = loaded

		fn, err := decide(ctx, data)
		if err != nil || fn == nil {
			return err
		}
		next, err := fn(data, date, t.calendar.Now().UTC())
		if errors.Is(err, shared.ErrAlreadyProcessed) {
			return nil
		}
		if err != nil {
			return err
		}

		err = t.streakRepo.UpdateStreak(ctx, userID, next.Patch())
		if shared.IsAlreadyExists(err) {
			// another request processed the same date first
			data, err = t.load(ctx, userID)
			return err
		}
		if err != nil {
			return err
		}
		tr = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return unchanged(data, date), nil
	}
	return t.finish(ctx, userID, date, *tr)
}

// finish runs the steps that follow a written transition.
func (t *StreakTracker) finish(ctx context.Context, userID, date string, tr streak.Transition) (*StreakResult, error) {
	if err := t.syncProgress(ctx, userID, tr); err != nil {
		return nil, err
	}

	result := &StreakResult{
		UserID:  userID,
		Date:    date,
		Changed: true,
		Kind:    tr.Kind,
		Current: tr.Current,
		Longest: tr.Longest,
	}

	t.log.Info("streak updated",
		logger.UserID(userID),
		logger.Date(date),
		logger.String("transition", string(tr.Kind)),
		logger.Int("previous", tr.Previous),
		logger.Int("current", tr.Current),
	)

	switch tr.Kind {
	case streak.KindReset:
		if tr.Previous > 0 {
			publishAll(ctx, t.publisher, t.log, shared.NewStreakBrokenEvent(userID, date, tr.Previous))
		}
	default:
		publishAll(ctx, t.publisher, t.log, shared.NewStreakUpdatedEvent(userID, date, tr.Current, tr.Longest))

		bonus, err := t.CheckStreakBonus(ctx, userID, tr.Current, date)
		if err != nil {
			return nil, err
		}
		result.Bonus = bonus
	}

	return result, nil
}

// syncProgress mirrors streak counters into UserProgress.
func (t *StreakTracker) syncProgress(ctx context.Context, userID string, tr streak.Transition) error {
	current, longest := tr.Current, tr.Longest
	patch := progress.ProgressPatch{CurrentStreak: &current, LongestStreak: &longest}

	err := t.progressRepo.UpdateUserProgress(ctx, userID, patch)
	if !shared.IsNotFound(err) {
		return err
	}
	if _, err := t.progressRepo.CreateUserProgress(ctx, userID); err != nil {
		return err
	}
	return t.progressRepo.UpdateUserProgress(ctx, userID, patch)
}

// ─────────────────────────────────────────────────────────────────────────────
// Daily decision point
// ─────────────────────────────────────────────────────────────────────────────

// CheckAndUpdateDailyStreak runs once the user's daily goal for date is met.
// Yesterday met -> increment; otherwise a new streak starts at 1.
func (t *StreakTracker) CheckAndUpdateDailyStreak(ctx context.Context, userID, date string) (*StreakResult, error) {
	const op = "CheckAndUpdateDailyStreak"
	if err := validateUserDate(op, userID, date); err != nil {
		return nil, err
	}

	yesterday, err := timeutil.PreviousDate(date)
	if err != nil {
		return nil, shared.InvalidInput("streak", op, "invalid date %q", date)
	}

	met, err := t.activityRepo.GoalMetDates(ctx, userID, []string{date, yesterday})
	if err != nil {
		return nil, err
	}

	return t.update(ctx, userID, date, func(context.Context, *streak.Data) (transitionFunc, error) {
		switch {
		case !met[date]:
			return nil, nil
		case met[yesterday]:
			return (*streak.Data).Increment, nil
		default:
			return (*streak.Data).StartNew, nil
		}
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Milestone bonus
// ─────────────────────────────────────────────────────────────────────────────

// CheckStreakBonus grants the milestone bonus for reaching current on date.
// The ledger tuple (streak_bonus, streak-{n}-{date}) makes it one-time.
func (t *StreakTracker) CheckStreakBonus(ctx context.Context, userID string, current int, date string) (*BonusResult, error) {
	xp, ok := streak.MilestoneBonus(current)
	if !ok {
		return nil, nil
	}

	res, err := t.ledger.ApplyXP(ctx, ApplyXPCommand{
		UserID:      userID,
		Amount:      xp,
		Source:      progress.SourceStreakBonus,
		SourceID:    StreakBonusSourceID(current, date),
		Description: fmt.Sprintf("%d day streak", current),
	})
	if err != nil {
		return nil, err
	}

	if res.Applied {
		t.log.Info("streak milestone bonus granted",
			logger.UserID(userID), logger.Int("streak", current), logger.XPAmount(xp))
		publishAll(ctx, t.publisher, t.log, shared.NewStreakMilestoneEvent(userID, current, xp))
	}
	return &BonusResult{Streak: current, XP: xp, Applied: res.Applied}, nil
}

// StreakBonusSourceID is the ledger source id of a milestone bonus.
func StreakBonusSourceID(current int, date string) string {
	return fmt.Sprintf("streak-%d-%s", current, date)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// GetStreak returns the user's streak, or the empty state.
func (t *StreakTracker) GetStreak(ctx context.Context, userID string) (*streak.Data, error) {
	return t.load(ctx, userID)
}

func (t *StreakTracker) load(ctx context.Context, userID string) (*streak.Data, error) {
	data, err := t.streakRepo.GetStreakData(ctx, userID)
	if shared.IsNotFound(err) {
		return streak.NewData(userID), nil
	}
	return data, err
}

func unchanged(data *streak.Data, date string) *StreakResult {
	return &StreakResult{
		UserID:  data.UserID,
		Date:    date,
		Current: data.Current,
		Longest: data.Longest,
	}
}
