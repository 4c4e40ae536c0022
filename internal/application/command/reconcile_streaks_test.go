package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
	"github.com/cardquest/progression/internal/infrastructure/persistence/memory"
	"github.com/cardquest/progression/pkg/logger"
)

// interleavingStreaks runs before once, between the caller's read and its
// first write.
type interleavingStreaks struct {
	*memory.Store
	before func()
}

func (r *interleavingStreaks) UpdateStreak(ctx context.Context, userID string, patch streak.Patch) error {
	if r.before != nil {
		before := r.before
		r.before = nil
		before()
	}
	return r.Store.UpdateStreak(ctx, userID, patch)
}

func TestUpdateAllStreaks_DecidesPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the run on "today" reconciles "yesterday"
	f.seedStreak("continuing", 3, 3, twoAgo)
	f.goalMet("continuing", twoAgo)
	f.goalMet("continuing", yesterday)

	f.goalMet("starting", yesterday)

	f.seedStreak("breaking", 6, 8, twoAgo)

	f.seedStreak("already-done", 2, 2, yesterday)

	_, err := f.store.CreateUserProgress(ctx, "idle")
	require.NoError(t, err)
	_, err = f.store.CreateUserProgress(ctx, "starting")
	require.NoError(t, err)

	stats, err := f.streaks.UpdateAllStreaks(ctx, f.store, f.runner(), today)
	require.NoError(t, err)

	assert.Equal(t, yesterday, stats.ReferenceDate)
	assert.Equal(t, 5, stats.TotalUsers)
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 1, stats.Incremented)
	assert.Equal(t, 1, stats.Started)
	assert.Equal(t, 1, stats.Reset)
	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, stats.Errors)
	assert.False(t, stats.Aborted())

	cont, err := f.streaks.GetStreak(ctx, "continuing")
	require.NoError(t, err)
	assert.Equal(t, 4, cont.Current)

	broke, err := f.streaks.GetStreak(ctx, "breaking")
	require.NoError(t, err)
	assert.Equal(t, 0, broke.Current)
	assert.Equal(t, 8, broke.Longest)
}

func TestUpdateAllStreaks_RerunChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStreak("u1", 3, 3, twoAgo)
	f.goalMet("u1", twoAgo)
	f.goalMet("u1", yesterday)

	_, err := f.streaks.UpdateAllStreaks(ctx, f.store, f.runner(), today)
	require.NoError(t, err)
	stats, err := f.streaks.UpdateAllStreaks(ctx, f.store, f.runner(), today)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	data, err := f.streaks.GetStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, data.Current)
}

func TestUpdateAllStreaks_PerUserErrorsAreCollected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := f.store.CreateUserProgress(ctx, id)
		require.NoError(t, err)
	}
	f.store.FailOn("GoalMetDates", shared.NewDomainError("activity", "GoalMetDates", shared.ErrExternalService, "timeout"))

	stats, err := f.streaks.UpdateAllStreaks(ctx, f.store, f.runner(), today)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Processed)
	assert.Len(t, stats.Errors, 3)
	assert.False(t, stats.Aborted())
}

func TestUpdateAllStreaks_AbortsOnResourceExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := f.store.CreateUserProgress(ctx, id)
		require.NoError(t, err)
	}
	f.store.FailOn("GoalMetDates", shared.NewDomainError("activity", "GoalMetDates", shared.ErrResourceExhausted, "quota exceeded"))

	stats, err := f.streaks.UpdateAllStreaks(ctx, f.store, f.runner(), today)
	require.NoError(t, err, "exhaustion is reported in stats, not raised")

	assert.True(t, stats.Aborted())
	assert.Equal(t, command.AbortResourceExhausted, stats.AbortReason)
	assert.Equal(t, 1, stats.Processed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "a", stats.Errors[0].UserID)
}

func TestUpdateAllStreaks_CannotEnumerateUsers(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("GetAllUserIDs", shared.NewDomainError("progress", "GetAllUserIDs", shared.ErrExternalService, "down"))

	stats, err := f.streaks.UpdateAllStreaks(context.Background(), f.store, f.runner(), today)
	assert.Nil(t, stats)
	assert.ErrorIs(t, err, shared.ErrCriticalFailure)
	assert.ErrorIs(t, err, shared.ErrExternalService)
}

func TestUpdateAllStreaks_InvalidRunDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.streaks.UpdateAllStreaks(context.Background(), f.store, f.runner(), "10/03/2026")
	assert.True(t, shared.IsValidation(err))
}

func TestUpdateAllStreaks_RequestForNewerDayWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// yesterday was missed, today's goal is already met
	f.seedStreak("u1", 3, 3, twoAgo)
	f.goalMet("u1", twoAgo)
	f.goalMet("u1", today)

	repo := &interleavingStreaks{Store: f.store, before: func() {
		res, err := f.streaks.CheckAndUpdateDailyStreak(ctx, "u1", today)
		require.NoError(t, err)
		require.Equal(t, streak.KindStartNew, res.Kind)
	}}
	nightly := command.NewStreakTracker(repo, f.store, f.store, f.ledger, f.events, f.calendar, logger.Nop())

	stats, err := nightly.UpdateAllStreaks(ctx, f.store, f.runner(), today)
	require.NoError(t, err)
	assert.Empty(t, stats.Errors)
	assert.Zero(t, stats.Reset)
	assert.Equal(t, 1, stats.Skipped)

	data, err := f.store.GetStreakData(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, data.Current)
	assert.Equal(t, []streak.HistoryEntry{{Date: twoAgo, Count: 3}, {Date: today, Count: 1}}, data.History)

	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentStreak)
}

func TestStreakStore_RejectsStaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStreak("u1", 3, 3, twoAgo)

	data, err := f.store.GetStreakData(ctx, "u1")
	require.NoError(t, err)
	reset, err := data.Reset(yesterday, testNow)
	require.NoError(t, err)
	inc, err := data.Increment(yesterday, testNow)
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateStreak(ctx, "u1", reset.Patch()))
	err = f.store.UpdateStreak(ctx, "u1", inc.Patch())
	assert.True(t, shared.IsConcurrentModification(err))

	data, err = f.store.GetStreakData(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, data.Current)
	assert.EqualValues(t, 1, data.Version)
}
