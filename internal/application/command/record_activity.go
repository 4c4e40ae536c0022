package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/activity"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Entry points for user actions: a card review and any other XP gain.
// A review flows through ledger -> daily counter -> daily bonus + streak ->
// achievements. Every step after the ledger is idempotent, so a retried
// request finishes the work a failed one left behind.
// ══════════════════════════════════════════════════════════════════════════════

// Default XP for creation events when AddXP is called without an amount.
const (
	CardCreationXP = 5
	DeckCreationXP = 15
)

// AchievementChecker evaluates the catalog for a user.
// Implemented by saga.AchievementEvaluator.
type AchievementChecker interface {
	CheckAchievements(ctx context.Context, userID string, types ...achievement.ConditionType) ([]*achievement.Achievement, error)
}

// ProcessCardReviewCommand contains the data of one card review.
type ProcessCardReviewCommand struct {
	UserID     string
	CardID     string
	DeckID     string // optional
	Difficulty progress.Difficulty

	// ReviewedAt defaults to now. It is part of the ledger source id, so a
	// client retrying the same review must send the same value.
	ReviewedAt time.Time
}

// Validate validates the command.
func (c ProcessCardReviewCommand) Validate() error {
	const op = "ProcessCardReview"
	if strings.TrimSpace(c.UserID) == "" {
		return shared.InvalidInput("progress", op, "user id is required")
	}
	if strings.TrimSpace(c.CardID) == "" {
		return shared.InvalidInput("progress", op, "card id is required")
	}
	return nil
}

// ProcessCardReviewResult contains everything a review changed.
type ProcessCardReviewResult struct {
	// Applied is false when this review had already been recorded.
	Applied          bool
	XP               int
	Date             string
	Progress         *progress.UserProgress
	LevelUp          progress.LevelUpResult
	Daily            activity.GoalStatus
	DailyGoalAwarded bool
	Streak           *StreakResult
	Unlocked         []*achievement.Achievement
}

// AddXPCommand grants XP for anything other than a review.
type AddXPCommand struct {
	UserID      string
	Amount      int // 0 picks the default for card/deck creation
	Source      progress.Source
	SourceID    string
	Description string
}

// AddXPResult is the outcome of AddXP.
type AddXPResult struct {
	*ApplyXPResult
	Unlocked []*achievement.Achievement
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRecorder wires the ledger, the daily goal and the streak together.
type ActivityRecorder struct {
	ledger       *XPLedger
	dailyGoal    *DailyGoalTracker
	streaks      *StreakTracker
	achievements AchievementChecker
	calendar     *timeutil.Calendar
	log          *logger.Logger
}

// NewActivityRecorder creates a new ActivityRecorder.
// achievements may be nil, in which case nothing is evaluated.
func NewActivityRecorder(
	ledger *XPLedger,
	dailyGoal *DailyGoalTracker,
	streaks *StreakTracker,
	achievements AchievementChecker,
	calendar *timeutil.Calendar,
	log *logger.Logger,
) *ActivityRecorder {
	if calendar == nil {
		calendar = timeutil.NewCalendar(nil, nil)
	}
	if log == nil {
		log = logger.Default()
	}
	return &ActivityRecorder{
		ledger:       ledger,
		dailyGoal:    dailyGoal,
		streaks:      streaks,
		achievements: achievements,
		calendar:     calendar,
		log:          log.Named("activity_recorder"),
	}
}

// ProcessCardReview grants review XP and advances the daily goal and streak.
func (r *ActivityRecorder) ProcessCardReview(ctx context.Context, cmd ProcessCardReviewCommand) (*ProcessCardReviewResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	xp, err := progress.CalculateXPForReview(cmd.Difficulty)
	if err != nil {
		return nil, err
	}

	reviewedAt := cmd.ReviewedAt
	if reviewedAt.IsZero() {
		reviewedAt = r.calendar.Now()
	}
	date := r.calendar.DateKey(reviewedAt)
	log := r.log.With(logger.UserID(cmd.UserID), logger.Date(date))

	description := fmt.Sprintf("Reviewed card %s (%s)", cmd.CardID, cmd.Difficulty)
	if cmd.DeckID != "" {
		description += " in deck " + cmd.DeckID
	}

	sourceID := ReviewSourceID(cmd.CardID, reviewedAt)
	applied, err := r.ledger.ApplyXP(ctx, ApplyXPCommand{
		UserID:      cmd.UserID,
		Amount:      xp,
		Source:      progress.SourceReview,
		SourceID:    sourceID,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	result := &ProcessCardReviewResult{
		Applied:  applied.Applied,
		XP:       xp,
		Date:     date,
		Progress: applied.Progress,
		LevelUp:  applied.LevelUp,
	}

	if !applied.Applied {
		log.Debug("review xp already recorded", logger.String("card_id", cmd.CardID))
	}
	// Runs for retries too: the counter is keyed on the same source id, so a
	// review whose XP landed before a failure is still counted, once.
	dp, err := r.dailyGoal.RecordReview(ctx, cmd.UserID, date, sourceID)
	if err != nil {
		return nil, err
	}
	result.Daily = dp.Status(r.dailyGoal.Target())

	types := []achievement.ConditionType{achievement.ReviewsCompleted, achievement.Custom}
	if result.Daily.GoalMet {
		awarded, err := r.completeDailyGoal(ctx, cmd.UserID, date)
		if err != nil {
			return nil, err
		}
		result.DailyGoalAwarded = awarded

		if result.Streak, err = r.streaks.CheckAndUpdateDailyStreak(ctx, cmd.UserID, date); err != nil {
			return nil, err
		}
		types = append(types, achievement.DailyGoalsCompleted, achievement.StreakLength)
	}
	types = append(types, achievement.TotalXP, achievement.LevelReached)

	if result.Unlocked, err = r.checkAchievements(ctx, cmd.UserID, types); err != nil {
		return nil, err
	}

	// progress may have moved since the ledger call (bonus XP, streak sync)
	if result.DailyGoalAwarded || result.Streak != nil || len(result.Unlocked) > 0 {
		if result.Progress, err = r.ledger.LoadOrCreate(ctx, cmd.UserID); err != nil {
			return nil, err
		}
	}

	log.Info("card review processed",
		logger.Bool("applied", result.Applied),
		logger.XPAmount(xp),
		logger.Int("cards_reviewed", result.Daily.CardsReviewed),
		logger.Bool("goal_met", result.Daily.GoalMet),
		logger.Int("unlocked", len(result.Unlocked)),
	)

	return result, nil
}

// completeDailyGoal awards the daily bonus, treating an earlier award as done.
func (r *ActivityRecorder) completeDailyGoal(ctx context.Context, userID, date string) (bool, error) {
	_, err := r.dailyGoal.AwardDailyGoalXP(ctx, userID, date)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrAlreadyProcessed):
		return false, nil
	default:
		return false, err
	}
}

// AddXP grants XP from a non-review source and evaluates the achievements
// that source can move.
func (r *ActivityRecorder) AddXP(ctx context.Context, cmd AddXPCommand) (*AddXPResult, error) {
	amount := cmd.Amount
	if amount == 0 {
		amount = defaultXP(cmd.Source)
	}

	applied, err := r.ledger.ApplyXP(ctx, ApplyXPCommand{
		UserID:      cmd.UserID,
		Amount:      amount,
		Source:      cmd.Source,
		SourceID:    cmd.SourceID,
		Description: cmd.Description,
	})
	if err != nil {
		return nil, err
	}

	result := &AddXPResult{ApplyXPResult: applied}
	if result.Unlocked, err = r.checkAchievements(ctx, cmd.UserID, RelevantConditionTypes(cmd.Source)); err != nil {
		return nil, err
	}
	if len(result.Unlocked) > 0 {
		if result.Progress, err = r.ledger.LoadOrCreate(ctx, cmd.UserID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *ActivityRecorder) checkAchievements(ctx context.Context, userID string, types []achievement.ConditionType) ([]*achievement.Achievement, error) {
	if r.achievements == nil {
		return nil, nil
	}
	return r.achievements.CheckAchievements(ctx, userID, types...)
}

// RelevantConditionTypes lists the condition types an XP source can move.
// Achievement rewards are excluded from their own re-evaluation.
func RelevantConditionTypes(src progress.Source) []achievement.ConditionType {
	var types []achievement.ConditionType
	switch src {
	case progress.SourceReview:
		types = append(types, achievement.ReviewsCompleted, achievement.Custom)
	case progress.SourceCardCreation:
		types = append(types, achievement.CardsCreated)
	case progress.SourceDeckCreation:
		types = append(types, achievement.DecksCreated)
	case progress.SourceDailyGoal:
		types = append(types, achievement.DailyGoalsCompleted)
	case progress.SourceStreakBonus:
		types = append(types, achievement.StreakLength)
	}
	return append(types, achievement.TotalXP, achievement.LevelReached)
}

func defaultXP(src progress.Source) int {
	switch src {
	case progress.SourceCardCreation:
		return CardCreationXP
	case progress.SourceDeckCreation:
		return DeckCreationXP
	}
	return 0
}

// ReviewSourceID is the ledger source id of a review.
func ReviewSourceID(cardID string, reviewedAt time.Time) string {
	return fmt.Sprintf("%s:%d", cardID, reviewedAt.UnixMilli())
}
