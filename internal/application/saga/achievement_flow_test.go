package saga_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/application/saga"
	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/infrastructure/persistence/memory"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

type countingPublisher struct {
	mu       sync.Mutex
	unlocked int
}

func (p *countingPublisher) Publish(_ context.Context, e shared.Event) error {
	if e.EventType() == shared.EventAchievementUnlocked {
		p.mu.Lock()
		p.unlocked++
		p.mu.Unlock()
	}
	return nil
}

type evalFixture struct {
	store     *memory.Store
	ledger    *command.XPLedger
	evaluator *saga.AchievementEvaluator
	events    *countingPublisher
}

func newEvalFixture(t *testing.T, catalog ...*achievement.Achievement) *evalFixture {
	t.Helper()

	clock := timeutil.FixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	store := memory.New(clock)
	cal := timeutil.NewCalendar(time.UTC, clock)
	events := &countingPublisher{}
	ledger := command.NewXPLedger(store, events, cal, logger.Nop())

	for _, a := range catalog {
		require.NoError(t, store.UpsertAchievement(context.Background(), a))
	}

	return &evalFixture{
		store:     store,
		ledger:    ledger,
		evaluator: saga.NewAchievementEvaluator(store, store, store, store, nil, ledger, events, cal, logger.Nop()),
		events:    events,
	}
}

func threshold(id string, t achievement.ConditionType, target, reward int) *achievement.Achievement {
	return &achievement.Achievement{
		ID:        id,
		Name:      id,
		Tier:      achievement.TierBronze,
		XPReward:  reward,
		Condition: achievement.ThresholdCondition{Kind: t, Goal: target},
	}
}

func (f *evalFixture) createCards(t *testing.T, userID string, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		_, err := f.ledger.ApplyXP(context.Background(), command.ApplyXPCommand{
			UserID: userID, Amount: 5, Source: progress.SourceCardCreation, SourceID: fmt.Sprintf("card-%d", i),
		})
		require.NoError(t, err)
	}
}

func TestCheckAchievements_CardsCreatedUnlocksOnTenthCard(t *testing.T) {
	f := newEvalFixture(t, threshold("card-collector", achievement.CardsCreated, 10, 100))
	ctx := context.Background()

	f.createCards(t, "u1", 0, 9)
	unlocked, err := f.evaluator.CheckAchievements(ctx, "u1", achievement.CardsCreated)
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	pct, err := f.evaluator.GetUserProgress(ctx, "u1", "card-collector")
	require.NoError(t, err)
	assert.Equal(t, 90, pct)

	f.createCards(t, "u1", 9, 10)
	unlocked, err = f.evaluator.CheckAchievements(ctx, "u1", achievement.CardsCreated)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "card-collector", unlocked[0].ID)

	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10*5+100, p.TotalXP)
	assert.Equal(t, []string{"card-collector"}, p.Achievements)

	pct, err = f.evaluator.GetUserProgress(ctx, "u1", "card-collector")
	require.NoError(t, err)
	assert.Equal(t, 100, pct)
}

func TestCheckAchievements_ConcurrentChecksRewardOnce(t *testing.T) {
	f := newEvalFixture(t, threshold("ten-cards", achievement.CardsCreated, 10, 250))
	ctx := context.Background()
	f.createCards(t, "u1", 0, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlocked, err := f.evaluator.CheckAchievements(ctx, "u1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total += len(unlocked)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	assert.Equal(t, 1, f.events.unlocked)

	n, err := f.store.CountTransactions(ctx, "u1", progress.SourceAchievement)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnlockAchievement_RepeatedUnlockIsSilent(t *testing.T) {
	f := newEvalFixture(t, threshold("first", achievement.TotalXP, 1, 40))
	ctx := context.Background()

	first, err := f.evaluator.UnlockAchievement(ctx, "u1", "first")
	require.NoError(t, err)
	second, err := f.evaluator.UnlockAchievement(ctx, "u1", "first")
	require.NoError(t, err)

	assert.True(t, first.IsNewUnlock)
	assert.True(t, first.XPApplied)
	assert.False(t, second.IsNewUnlock)
	assert.False(t, second.XPApplied)

	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, p.TotalXP)
	assert.Equal(t, []string{"first"}, p.Achievements)
}

func TestUnlockAchievement_UnknownIDPropagates(t *testing.T) {
	f := newEvalFixture(t)

	_, err := f.evaluator.UnlockAchievement(context.Background(), "u1", "missing")
	assert.True(t, shared.IsNotFound(err))

	var flowErr *saga.AchievementFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, saga.StepLoadAchievement, flowErr.Step)
}

func TestUnlockAchievement_FailedAwardIsRepairedOnRetry(t *testing.T) {
	f := newEvalFixture(t, threshold("first", achievement.TotalXP, 1, 40))
	ctx := context.Background()

	f.store.FailOn("CommitXP", shared.NewDomainError("progress", "CommitXP", shared.ErrExternalService, "down"))
	_, err := f.evaluator.UnlockAchievement(ctx, "u1", "first")
	var flowErr *saga.AchievementFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, saga.StepAwardXP, flowErr.Step)

	f.store.FailOn("CommitXP", nil)
	out, err := f.evaluator.UnlockAchievement(ctx, "u1", "first")
	require.NoError(t, err)
	assert.False(t, out.IsNewUnlock)
	assert.True(t, out.XPApplied)
}

func TestCheckAchievements_ResumesUnlockWhoseAwardFailed(t *testing.T) {
	f := newEvalFixture(t, threshold("ten-cards", achievement.CardsCreated, 10, 100))
	ctx := context.Background()
	f.createCards(t, "u1", 0, 10)

	f.store.FailOn("CommitXP", shared.NewDomainError("progress", "CommitXP", shared.ErrExternalService, "down"))
	_, err := f.evaluator.CheckAchievements(ctx, "u1")
	var flowErr *saga.AchievementFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, saga.StepAwardXP, flowErr.Step)
	f.store.FailOn("CommitXP", nil)

	unlocked, err := f.evaluator.CheckAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "ten-cards", unlocked[0].ID)

	for range 2 {
		unlocked, err = f.evaluator.CheckAchievements(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, unlocked)
	}

	n, err := f.store.CountTransactions(ctx, "u1", progress.SourceAchievement)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.events.unlocked)

	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10*5+100, p.TotalXP)
	assert.Equal(t, []string{"ten-cards"}, p.Achievements)
}

func TestCheckAchievements_ResumeIgnoresTypeFilter(t *testing.T) {
	f := newEvalFixture(t, threshold("first", achievement.TotalXP, 1, 40))
	ctx := context.Background()

	f.store.FailOn("UpdateUserProgress", shared.NewDomainError("progress", "UpdateUserProgress", shared.ErrExternalService, "down"))
	_, err := f.evaluator.UnlockAchievement(ctx, "u1", "first")
	require.Error(t, err)
	assert.Equal(t, 1, f.events.unlocked, "event goes out with the reward")
	f.store.FailOn("UpdateUserProgress", nil)

	unlocked, err := f.evaluator.CheckAchievements(ctx, "u1", achievement.CardsCreated)
	require.NoError(t, err)
	assert.Empty(t, unlocked, "reward was already granted")

	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, p.TotalXP)
	assert.Equal(t, []string{"first"}, p.Achievements)
	assert.Equal(t, 1, f.events.unlocked)
}

func TestCheckAchievements_RewardUnlocksXPTargetInSamePass(t *testing.T) {
	f := newEvalFixture(t,
		threshold("a-level-1", achievement.LevelReached, 1, 10),
		threshold("b-xp-250", achievement.TotalXP, 250, 10),
		threshold("c-ten-cards", achievement.CardsCreated, 10, 200),
	)
	ctx := context.Background()
	f.createCards(t, "u1", 0, 10)

	unlocked, err := f.evaluator.CheckAchievements(ctx, "u1")
	require.NoError(t, err)

	var ids []string
	for _, a := range unlocked {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"a-level-1", "b-xp-250", "c-ten-cards"}, ids)

	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10*5+200+10+10, p.TotalXP)
}

func TestCheckAchievements_CustomMetric(t *testing.T) {
	cond, err := achievement.ParseCondition(achievement.ConditionSpec{
		Type:   string(achievement.Custom),
		Target: 3,
		Params: map[string]any{"metric": achievement.MetricMinDailyReviewsStreak, "min_per_day": 10},
	})
	require.NoError(t, err)

	f := newEvalFixture(t, &achievement.Achievement{
		ID: "steady", Name: "Steady", Tier: achievement.TierSilver, XPReward: 75, Condition: cond,
	})
	f.store.SetUserMetrics(achievement.UserMetrics{
		UserID: "u1",
		DailyReviews: map[string]int{
			"2026-03-01": 12, "2026-03-02": 10, "2026-03-03": 15, "2026-03-05": 30,
		},
	})

	unlocked, err := f.evaluator.CheckAchievements(context.Background(), "u1", achievement.Custom)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "steady", unlocked[0].ID)
}

func TestCheckAchievements_SkipsMisconfiguredCustom(t *testing.T) {
	f := newEvalFixture(t,
		&achievement.Achievement{
			ID: "broken", Name: "Broken", Tier: achievement.TierGold, XPReward: 10,
			Condition: achievement.CustomCondition{Metric: "no_such_metric", Goal: 1},
		},
		threshold("any-xp", achievement.TotalXP, 1, 10),
	)
	ctx := context.Background()
	_, err := f.ledger.ApplyXP(ctx, command.ApplyXPCommand{UserID: "u1", Amount: 5, Source: progress.SourceReview, SourceID: "c:1"})
	require.NoError(t, err)

	unlocked, err := f.evaluator.CheckAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "any-xp", unlocked[0].ID)
}

func TestCheckAchievements_UnknownTypeFilter(t *testing.T) {
	f := newEvalFixture(t)

	_, err := f.evaluator.CheckAchievements(context.Background(), "u1", "friends_made")
	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, shared.ErrUnknownConditionType)
}

func TestEvaluateAllUsers(t *testing.T) {
	f := newEvalFixture(t, threshold("ten-cards", achievement.CardsCreated, 10, 100))
	ctx := context.Background()
	f.createCards(t, "u1", 0, 10)
	f.createCards(t, "u2", 0, 3)

	runner := command.NewBatchRunner(command.BatchConfig{BatchSize: 1}, logger.Nop())
	stats, err := f.evaluator.EvaluateAllUsers(ctx, f.store, runner)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Unlocked)
	assert.False(t, stats.Aborted())
}

func TestEvaluateAllUsers_CriticalFailure(t *testing.T) {
	f := newEvalFixture(t)
	f.store.FailOn("GetAllUserIDs", shared.NewDomainError("progress", "GetAllUserIDs", shared.ErrExternalService, "down"))

	_, err := f.evaluator.EvaluateAllUsers(context.Background(), f.store, command.NewBatchRunner(command.DefaultBatchConfig(), nil))
	assert.ErrorIs(t, err, shared.ErrCriticalFailure)
}
