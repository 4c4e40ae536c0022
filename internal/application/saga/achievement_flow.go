// Package saga contains business processes that orchestrate
// several domain operations in a coordinated manner.
package saga

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Load Catalog → Subtract Recorded → Evaluate Conditions →
//
//	Unlock (first write wins) → Award XP → Publish Event → Record on Progress
//
// Only the unlock itself is atomic. Every later step is idempotent, so a
// repeated unlock of the same pair repairs a flow that failed halfway and
// never rewards twice. The event goes out with the reward, before the
// progress record, so a failed record step does not lose it.
// ══════════════════════════════════════════════════════════════════════════════

// FlowStep names a step of the unlock flow.
type FlowStep string

const (
	StepLoadAchievement FlowStep = "load_achievement"
	StepUnlock          FlowStep = "unlock"
	StepAwardXP         FlowStep = "award_xp"
	StepRecordProgress  FlowStep = "record_progress"
)

// AchievementFlowError reports the step an unlock failed at.
type AchievementFlowError struct {
	Step          FlowStep
	UserID        string
	AchievementID string
	Cause         error
}

func (e *AchievementFlowError) Error() string {
	return fmt.Sprintf("achievement flow failed at step '%s' (user %s, achievement %s): %v",
		e.Step, e.UserID, e.AchievementID, e.Cause)
}

func (e *AchievementFlowError) Unwrap() error { return e.Cause }

// UnlockOutcome is the result of UnlockAchievement.
type UnlockOutcome struct {
	Achievement *achievement.Achievement
	IsNewUnlock bool
	UnlockedAt  time.Time
	XPApplied   bool
}

// EvaluationStats contains the outcome of an all-users evaluation.
type EvaluationStats struct {
	TotalUsers  int
	Processed   int
	Unlocked    int
	Errors      []command.UserError
	AbortReason command.AbortReason
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Aborted reports whether the run stopped early.
func (s *EvaluationStats) Aborted() bool { return s.AbortReason != command.AbortNone }

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// AchievementEvaluator checks the catalog against a user's state and unlocks
// what is satisfied.
type AchievementEvaluator struct {
	achievementRepo achievement.Repository
	progressRepo    progress.Repository
	ledger          *command.XPLedger
	handlers        *achievement.HandlerRegistry
	publisher       shared.EventPublisher
	calendar        *timeutil.Calendar
	log             *logger.Logger
}

// NewAchievementEvaluator creates an evaluator with every built-in handler
// and the custom handler over metrics registered.
func NewAchievementEvaluator(
	achievementRepo achievement.Repository,
	progressRepo progress.Repository,
	streakRepo streak.Repository,
	metricsReader achievement.MetricsReader,
	metrics *achievement.MetricRegistry,
	ledger *command.XPLedger,
	publisher shared.EventPublisher,
	calendar *timeutil.Calendar,
	log *logger.Logger,
) *AchievementEvaluator {
	if metrics == nil {
		metrics = achievement.DefaultMetrics()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if calendar == nil {
		calendar = timeutil.NewCalendar(nil, nil)
	}
	if log == nil {
		log = logger.Default()
	}

	handlers := achievement.NewHandlerRegistry()
	RegisterBuiltinHandlers(handlers, progressRepo, streakRepo)
	RegisterCustomHandler(handlers, metricsReader, metrics)

	return &AchievementEvaluator{
		achievementRepo: achievementRepo,
		progressRepo:    progressRepo,
		ledger:          ledger,
		handlers:        handlers,
		publisher:       publisher,
		calendar:        calendar,
		log:             log.Named("achievement_evaluator"),
	}
}

// Handlers exposes the registry so callers can add or replace condition handlers.
func (e *AchievementEvaluator) Handlers() *achievement.HandlerRegistry { return e.handlers }

// CheckAchievements evaluates the catalog, optionally restricted to types,
// and unlocks every satisfied achievement the user does not have yet.
// It returns the achievements whose reward this call granted.
//
// An achievement counts as done only once it is recorded on the user's
// progress, the last step of the flow. Anything unlocked in the store but not
// recorded there is run through the flow again regardless of the type filter.
func (e *AchievementEvaluator) CheckAchievements(ctx context.Context, userID string, types ...achievement.ConditionType) ([]*achievement.Achievement, error) {
	const op = "CheckAchievements"

	if strings.TrimSpace(userID) == "" {
		return nil, shared.InvalidInput("achievement", op, "user id is required")
	}
	for _, t := range types {
		if _, err := achievement.ParseConditionType(string(t)); err != nil {
			return nil, err
		}
	}

	catalog, err := e.achievementRepo.GetAllAchievements(ctx)
	if err != nil {
		return nil, err
	}
	done, err := e.recorded(ctx, userID)
	if err != nil {
		return nil, err
	}
	owned, err := e.achievementRepo.GetUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocked := make(map[string]bool, len(owned))
	for _, ua := range owned {
		if ua.IsUnlocked() {
			unlocked[ua.AchievementID] = true
		}
	}

	ctx = withMetricsCache(ctx)
	values := make(map[achievement.ConditionType]int)
	log := e.log.With(logger.UserID(userID))

	var newly []*achievement.Achievement
	rewarded := func(a *achievement.Achievement, outcome *UnlockOutcome) {
		if !outcome.XPApplied {
			return
		}
		newly = append(newly, a)
		// reward changed the totals read by these handlers
		delete(values, achievement.TotalXP)
		delete(values, achievement.LevelReached)
	}

	var pending []*achievement.Achievement
	for _, a := range catalog {
		switch {
		case done[a.ID]:
		case unlocked[a.ID]:
			log.Info("resuming unfinished achievement unlock", logger.AchievementID(a.ID))
			outcome, err := e.unlock(ctx, userID, a)
			if err != nil {
				return newly, err
			}
			rewarded(a, outcome)
		case len(types) == 0 || slices.Contains(types, a.Condition.Type()):
			pending = append(pending, a)
		}
	}

	// Rewards can satisfy xp and level conditions already passed over, so
	// the pending set is evaluated again until a pass grants nothing.
	for len(pending) > 0 {
		before := len(newly)
		var rest []*achievement.Achievement

		for _, a := range pending {
			current, err := e.current(ctx, userID, a.Condition, values)
			if shared.IsValidation(err) {
				log.Warn("skipping achievement with unusable condition",
					logger.AchievementID(a.ID), logger.Err(err))
				continue
			}
			if err != nil {
				return newly, err
			}
			if current < a.Condition.Target() {
				rest = append(rest, a)
				continue
			}

			outcome, err := e.unlock(ctx, userID, a)
			if err != nil {
				return newly, err
			}
			rewarded(a, outcome)
		}

		if len(newly) == before {
			break
		}
		pending = rest
	}

	return newly, nil
}

// recorded returns the achievement ids on the user's progress.
func (e *AchievementEvaluator) recorded(ctx context.Context, userID string) (map[string]bool, error) {
	p, err := e.progressRepo.GetUserProgress(ctx, userID)
	if shared.IsNotFound(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(p.Achievements))
	for _, id := range p.Achievements {
		out[id] = true
	}
	return out, nil
}

// current returns the condition value. Threshold values are memoized per
// pass since they depend only on the type.
func (e *AchievementEvaluator) current(ctx context.Context, userID string, c achievement.Condition, memo map[achievement.ConditionType]int) (int, error) {
	_, threshold := c.(achievement.ThresholdCondition)
	if threshold {
		if v, ok := memo[c.Type()]; ok {
			return v, nil
		}
	}

	h, ok := e.handlers.Lookup(c.Type())
	if !ok {
		return 0, shared.WrapError("achievement", "Evaluate", shared.ErrInvalidInput,
			fmt.Sprintf("no handler for condition type %q", c.Type()), shared.ErrUnknownConditionType)
	}
	v, err := h.Current(ctx, userID, c)
	if err != nil {
		return 0, err
	}
	if threshold {
		memo[c.Type()] = v
	}
	return v, nil
}

// UnlockAchievement unlocks one achievement for the user. IsNewUnlock reports
// the first store unlock. XPApplied reports the call that granted the reward,
// and only that call publishes the event.
func (e *AchievementEvaluator) UnlockAchievement(ctx context.Context, userID, achievementID string) (*UnlockOutcome, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, shared.InvalidInput("achievement", "UnlockAchievement", "user id is required")
	}
	a, err := e.achievementRepo.GetAchievement(ctx, achievementID)
	if err != nil {
		return nil, &AchievementFlowError{Step: StepLoadAchievement, UserID: userID, AchievementID: achievementID, Cause: err}
	}
	return e.unlock(ctx, userID, a)
}

func (e *AchievementEvaluator) unlock(ctx context.Context, userID string, a *achievement.Achievement) (*UnlockOutcome, error) {
	fail := func(step FlowStep, err error) error {
		return &AchievementFlowError{Step: step, UserID: userID, AchievementID: a.ID, Cause: err}
	}

	res, err := e.achievementRepo.UnlockAchievement(ctx, userID, a.ID)
	if err != nil {
		return nil, fail(StepUnlock, err)
	}
	outcome := &UnlockOutcome{Achievement: a, IsNewUnlock: res.IsNewUnlock, UnlockedAt: res.UnlockedAt}

	// The ledger tuple (achievement, id) keeps the reward single even when a
	// lost race gets here.
	applied, err := e.ledger.ApplyXP(ctx, command.ApplyXPCommand{
		UserID:      userID,
		Amount:      a.XPReward,
		Source:      progress.SourceAchievement,
		SourceID:    a.ID,
		Description: "Achievement unlocked: " + a.Name,
	})
	if err != nil {
		return nil, fail(StepAwardXP, err)
	}
	outcome.XPApplied = applied.Applied

	if applied.Applied {
		e.log.Info("achievement unlocked",
			logger.UserID(userID),
			logger.AchievementID(a.ID),
			logger.String("tier", string(a.Tier)),
			logger.XPAmount(a.XPReward),
			logger.Bool("resumed", !res.IsNewUnlock),
		)
		event := shared.NewAchievementUnlockedEvent(userID, a.ID, a.Name, a.Description, a.XPReward)
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.log.Warn("failed to publish achievement event", logger.AchievementID(a.ID), logger.Err(err))
		}
	} else {
		e.log.Debug("achievement already rewarded", logger.UserID(userID), logger.AchievementID(a.ID))
	}

	id := a.ID
	if err := e.progressRepo.UpdateUserProgress(ctx, userID, progress.ProgressPatch{AddAchievement: &id}); err != nil {
		return nil, fail(StepRecordProgress, err)
	}
	return outcome, nil
}

// GetUserProgress returns completion towards an achievement as 0-100.
func (e *AchievementEvaluator) GetUserProgress(ctx context.Context, userID, achievementID string) (int, error) {
	a, err := e.achievementRepo.GetAchievement(ctx, achievementID)
	if err != nil {
		return 0, err
	}

	owned, err := e.achievementRepo.GetUserAchievements(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, ua := range owned {
		if ua.AchievementID == achievementID && ua.IsUnlocked() {
			return 100, nil
		}
	}

	current, err := e.current(withMetricsCache(ctx), userID, a.Condition, map[achievement.ConditionType]int{})
	if err != nil {
		return 0, err
	}
	return achievement.Percent(current, a.Condition.Target()), nil
}

// EvaluateAllUsers runs CheckAchievements for every user with the same
// backpressure and abort rules as the nightly streak batch.
func (e *AchievementEvaluator) EvaluateAllUsers(ctx context.Context, users command.UserLister, runner *command.BatchRunner) (*EvaluationStats, error) {
	const op = "EvaluateAllUsers"
	log := e.log.With(logger.Operation(op))

	stats := &EvaluationStats{StartedAt: e.calendar.Now()}

	ids, err := users.GetAllUserIDs(ctx)
	if err != nil {
		log.Error("cannot enumerate users", logger.Err(err))
		return nil, shared.WrapError("achievement", op, shared.ErrCriticalFailure, "cannot enumerate users", err)
	}
	stats.TotalUsers = len(ids)

	outcome := runner.Run(ctx, ids, func(ctx context.Context, userID string) error {
		unlocked, err := e.CheckAchievements(ctx, userID)
		stats.Unlocked += len(unlocked)
		return err
	})

	stats.Processed = outcome.Processed
	stats.Errors = outcome.Errors
	stats.AbortReason = outcome.AbortReason
	stats.FinishedAt = e.calendar.Now()

	log.Info("achievement evaluation finished",
		logger.Int("users", stats.TotalUsers),
		logger.Int("processed", stats.Processed),
		logger.Int("unlocked", stats.Unlocked),
		logger.Int("errors", len(stats.Errors)),
		logger.String("abort_reason", string(stats.AbortReason)),
		logger.Latency(stats.FinishedAt.Sub(stats.StartedAt)),
	)
	return stats, nil
}
