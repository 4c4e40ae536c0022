package command

import (
	"context"
	"strings"

	"github.com/cardquest/progression/internal/domain/activity"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY GOAL TRACKER
// Per-day review counters and the one-time daily bonus.
// ══════════════════════════════════════════════════════════════════════════════

// DailyGoalConfig contains the goal parameters.
type DailyGoalConfig struct {
	Target int // reviews per day
	Reward int // one-time XP bonus
}

// DefaultDailyGoalConfig returns default configuration.
func DefaultDailyGoalConfig() DailyGoalConfig {
	return DailyGoalConfig{
		Target: activity.DefaultDailyTarget,
		Reward: activity.DailyGoalReward,
	}
}

// DailyGoalTracker records reviews and grants the daily bonus.
type DailyGoalTracker struct {
	activityRepo activity.Repository
	ledger       *XPLedger
	publisher    shared.EventPublisher
	config       DailyGoalConfig
	log          *logger.Logger
}

// NewDailyGoalTracker creates a new DailyGoalTracker.
func NewDailyGoalTracker(
	activityRepo activity.Repository,
	ledger *XPLedger,
	publisher shared.EventPublisher,
	config DailyGoalConfig,
	log *logger.Logger,
) *DailyGoalTracker {
	if config.Target <= 0 || config.Reward <= 0 {
		config = DefaultDailyGoalConfig()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &DailyGoalTracker{
		activityRepo: activityRepo,
		ledger:       ledger,
		publisher:    publisher,
		config:       config,
		log:          log.Named("daily_goal"),
	}
}

// Target returns the configured daily target.
func (t *DailyGoalTracker) Target() int { return t.config.Target }

// RecordCardReview adds one review for the day.
func (t *DailyGoalTracker) RecordCardReview(ctx context.Context, userID, date string) (*activity.DailyProgress, error) {
	return t.RecordReview(ctx, userID, date, "")
}

// RecordReview adds the review identified by reviewID for the day. Repeating
// a reviewID returns the day unchanged, so a retried request counts once.
func (t *DailyGoalTracker) RecordReview(ctx context.Context, userID, date, reviewID string) (*activity.DailyProgress, error) {
	if err := validateUserDate("RecordCardReview", userID, date); err != nil {
		return nil, err
	}
	return t.activityRepo.IncrementCardsReviewed(ctx, userID, date, reviewID, t.config.Target)
}

// CheckDailyGoal reports the day's status. A day without a record is
// reported as "not met, nothing reviewed".
func (t *DailyGoalTracker) CheckDailyGoal(ctx context.Context, userID, date string) (activity.GoalStatus, error) {
	if err := validateUserDate("CheckDailyGoal", userID, date); err != nil {
		return activity.GoalStatus{}, err
	}

	dp, err := t.activityRepo.GetDailyProgress(ctx, userID, date)
	if shared.IsNotFound(err) {
		return activity.EmptyStatus(date, t.config.Target), nil
	}
	if err != nil {
		return activity.GoalStatus{}, err
	}
	return dp.Status(t.config.Target), nil
}

// AwardResult is the outcome of AwardDailyGoalXP.
type AwardResult struct {
	Awarded  bool
	XP       int
	Progress *progress.UserProgress
}

// AwardDailyGoalXP grants the daily bonus once per (user, date).
// Fails with ErrDailyGoalNotMet before the goal is reached and with
// ErrDailyGoalAlreadyAward after the bonus was granted.
func (t *DailyGoalTracker) AwardDailyGoalXP(ctx context.Context, userID, date string) (*AwardResult, error) {
	if err := validateUserDate("AwardDailyGoalXP", userID, date); err != nil {
		return nil, err
	}

	dp, err := t.activityRepo.GetDailyProgress(ctx, userID, date)
	if shared.IsNotFound(err) {
		return nil, shared.ErrDailyGoalNotMet
	}
	if err != nil {
		return nil, err
	}
	if !dp.GoalMet {
		return nil, shared.ErrDailyGoalNotMet
	}
	if dp.XPAwarded() {
		return nil, shared.ErrDailyGoalAlreadyAward
	}

	// The ledger tuple is the real guard; the daily record mirrors it.
	applied, err := t.ledger.ApplyXP(ctx, ApplyXPCommand{
		UserID:      userID,
		Amount:      t.config.Reward,
		Source:      progress.SourceDailyGoal,
		SourceID:    DailyGoalSourceID(date),
		Description: "Daily goal completed on " + date,
	})
	if err != nil {
		return nil, err
	}

	// Marking also repairs a record left unmarked by an earlier failed call.
	if _, err := t.activityRepo.MarkDailyXPAwarded(ctx, userID, date, t.config.Reward); err != nil {
		return nil, err
	}

	if !applied.Applied {
		t.log.Debug("daily goal xp already awarded", logger.UserID(userID), logger.Date(date))
		return nil, shared.ErrDailyGoalAlreadyAward
	}

	t.log.Info("daily goal completed",
		logger.UserID(userID), logger.Date(date), logger.XPAmount(t.config.Reward))
	publishAll(ctx, t.publisher, t.log,
		shared.NewDailyGoalCompletedEvent(userID, date, dp.CardsReviewed, t.config.Reward))

	return &AwardResult{Awarded: true, XP: t.config.Reward, Progress: applied.Progress}, nil
}

// DailyGoalSourceID is the ledger source id of the daily bonus.
func DailyGoalSourceID(date string) string {
	return "daily-goal-" + date
}

func validateUserDate(op, userID, date string) error {
	if strings.TrimSpace(userID) == "" {
		return shared.InvalidInput("activity", op, "user id is required")
	}
	return activity.ValidateDate(op, date)
}
