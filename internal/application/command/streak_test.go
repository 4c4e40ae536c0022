package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
)

// seedStreak puts a user at current on lastDate.
func (f *fixture) seedStreak(userID string, current, longest int, lastDate string) {
	f.store.PutStreak(&streak.Data{
		UserID:  userID,
		Current: current,
		Longest: longest,
		History: []streak.HistoryEntry{{Date: lastDate, Count: current}},
	})
}

func (f *fixture) bonusTransactions(userID string) []progress.XPTransaction {
	var out []progress.XPTransaction
	for _, txn := range f.store.Transactions(userID) {
		if txn.Source == progress.SourceStreakBonus {
			out = append(out, txn)
		}
	}
	return out
}

func TestIncrementStreak_SameDayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStreak("u1", 2, 2, yesterday)

	first, err := f.streaks.IncrementStreak(ctx, "u1", today)
	require.NoError(t, err)
	second, err := f.streaks.IncrementStreak(ctx, "u1", today)
	require.NoError(t, err)

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	assert.Equal(t, 3, first.Current)
	assert.Equal(t, first.Current, second.Current)

	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.CurrentStreak)
	assert.Equal(t, 3, p.LongestStreak)
}

func TestResetStreak_PreservesLongest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStreak("u1", 5, 12, yesterday)

	res, err := f.streaks.ResetStreak(ctx, "u1", today)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Current)
	assert.Equal(t, 12, res.Longest)

	data, err := f.streaks.GetStreak(ctx, "u1")
	require.NoError(t, err)
	last, _ := data.LastEntry()
	assert.Equal(t, streak.HistoryEntry{Date: today, Count: 0}, last)

	broken := f.events.ofType(shared.EventStreakBroken)
	require.Len(t, broken, 1)
	assert.Equal(t, 5, broken[0].Payload()["previous_streak"])
}

func TestStreak_OutOfOrderDateRejected(t *testing.T) {
	f := newFixture(t)
	f.seedStreak("u1", 3, 3, today)

	_, err := f.streaks.IncrementStreak(context.Background(), "u1", yesterday)
	assert.True(t, shared.IsValidation(err))
	assert.True(t, errors.Is(err, shared.ErrStreakDateOutOfOrder))
}

func TestCheckAndUpdateDailyStreak(t *testing.T) {
	t.Run("goal not met is a no-op", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.streaks.CheckAndUpdateDailyStreak(context.Background(), "u1", today)
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Zero(t, f.store.Calls("UpdateStreak"))
	})

	t.Run("yesterday met continues the chain", func(t *testing.T) {
		f := newFixture(t)
		f.seedStreak("u1", 4, 4, yesterday)
		f.goalMet("u1", yesterday)
		f.goalMet("u1", today)

		res, err := f.streaks.CheckAndUpdateDailyStreak(context.Background(), "u1", today)
		require.NoError(t, err)
		assert.Equal(t, streak.KindIncrement, res.Kind)
		assert.Equal(t, 5, res.Current)
	})

	t.Run("after a break a new streak starts at one", func(t *testing.T) {
		f := newFixture(t)
		f.seedStreak("u1", 9, 9, twoAgo)
		f.goalMet("u1", today)

		res, err := f.streaks.CheckAndUpdateDailyStreak(context.Background(), "u1", today)
		require.NoError(t, err)
		assert.Equal(t, streak.KindStartNew, res.Kind)
		assert.Equal(t, 1, res.Current)
		assert.Equal(t, 9, res.Longest)
	})
}

func TestStreakMilestones(t *testing.T) {
	tests := []struct {
		name    string
		from    int
		wantXP  int
		wantAny bool
	}{
		{"day 7", 6, 200, true},
		{"day 14", 13, 200, true},
		{"day 30 grants only the larger bonus", 29, 300, true},
		{"day 8 grants nothing", 7, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.seedStreak("u1", tt.from, tt.from, yesterday)
			f.goalMet("u1", yesterday)
			f.goalMet("u1", today)

			res, err := f.streaks.CheckAndUpdateDailyStreak(ctx, "u1", today)
			require.NoError(t, err)

			bonuses := f.bonusTransactions("u1")
			if !tt.wantAny {
				assert.Nil(t, res.Bonus)
				assert.Empty(t, bonuses)
				return
			}
			require.NotNil(t, res.Bonus)
			assert.True(t, res.Bonus.Applied)
			assert.Equal(t, tt.wantXP, res.Bonus.XP)
			require.Len(t, bonuses, 1)
			assert.Equal(t, tt.wantXP, bonuses[0].Amount)
			assert.Equal(t, command.StreakBonusSourceID(tt.from+1, today), bonuses[0].SourceID)

			// asking again for the same day grants nothing more
			again, err := f.streaks.CheckStreakBonus(ctx, "u1", tt.from+1, today)
			require.NoError(t, err)
			assert.False(t, again.Applied)
			assert.Len(t, f.bonusTransactions("u1"), 1)
			assert.Len(t, f.events.ofType(shared.EventStreakMilestone), 1)
		})
	}
}
