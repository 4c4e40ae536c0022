package command_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
)

func TestApplyXP_CreatesProgressAndLevelsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ledger.ApplyXP(ctx, command.ApplyXPCommand{
		UserID:   "u1",
		Amount:   150,
		Source:   progress.SourceManualAdjustment,
		SourceID: "grant-1",
	})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 150, res.Progress.TotalXP)
	assert.Equal(t, 1, res.Progress.Level)
	assert.Equal(t, 50, res.Progress.CurrentXP)
	assert.Equal(t, today, res.Progress.LastActivityDate)
	assert.True(t, res.LevelUp.LeveledUp)
	assert.Equal(t, 1, res.LevelUp.LevelsGained)

	assert.Len(t, f.events.ofType(shared.EventXPGained), 1)
	assert.Len(t, f.events.ofType(shared.EventLevelUp), 1)
}

func TestApplyXP_DuplicateTupleIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := command.ApplyXPCommand{UserID: "u1", Amount: 20, Source: progress.SourceReview, SourceID: "card-1:1"}

	first, err := f.ledger.ApplyXP(ctx, cmd)
	require.NoError(t, err)
	second, err := f.ledger.ApplyXP(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	assert.Equal(t, 20, second.Progress.TotalXP)
	assert.Len(t, f.store.Transactions("u1"), 1)
	assert.Len(t, f.events.ofType(shared.EventXPGained), 1)
}

func TestApplyXP_ConcurrentSameTupleAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := command.ApplyXPCommand{UserID: "u1", Amount: 300, Source: progress.SourceAchievement, SourceID: "first-steps"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.ApplyXP(ctx, cmd)
			if !assert.NoError(t, err) {
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	p, err := f.store.GetUserProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 300, p.TotalXP)
}

func TestApplyXP_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  command.ApplyXPCommand
	}{
		{"missing user", command.ApplyXPCommand{Amount: 10, Source: progress.SourceReview, SourceID: "x"}},
		{"zero amount", command.ApplyXPCommand{UserID: "u1", Source: progress.SourceReview, SourceID: "x"}},
		{"negative amount", command.ApplyXPCommand{UserID: "u1", Amount: -5, Source: progress.SourceReview, SourceID: "x"}},
		{"amount past curve", command.ApplyXPCommand{UserID: "u1", Amount: progress.MaxTotalXP + 1, Source: progress.SourceReview, SourceID: "x"}},
		{"unknown source", command.ApplyXPCommand{UserID: "u1", Amount: 10, Source: "gift", SourceID: "x"}},
		{"missing source id", command.ApplyXPCommand{UserID: "u1", Amount: 10, Source: progress.SourceReview}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.ApplyXP(ctx, tt.cmd)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
	assert.Zero(t, f.store.Calls("CommitXP"))
}

func TestApplyXP_StoreFailurePropagates(t *testing.T) {
	f := newFixture(t)
	boom := shared.NewDomainError("progress", "CommitXP", shared.ErrExternalService, "store down")
	f.store.FailOn("CommitXP", boom)

	_, err := f.ledger.ApplyXP(context.Background(), command.ApplyXPCommand{
		UserID: "u1", Amount: 10, Source: progress.SourceReview, SourceID: "card-1:1",
	})
	assert.ErrorIs(t, err, shared.ErrExternalService)
	assert.Equal(t, 1, f.store.Calls("CommitXP"), "non-conflict errors are not retried")
}
