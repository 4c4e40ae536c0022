package streak

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/domain/shared"
)

var at = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func TestIncrement_UpdatesLongest(t *testing.T) {
	d := &Data{UserID: "u1", Current: 4, Longest: 4, History: []HistoryEntry{{Date: "2024-06-09", Count: 4}}}

	tr, err := d.Increment("2024-06-10", at)
	require.NoError(t, err)
	assert.Equal(t, KindIncrement, tr.Kind)
	assert.Equal(t, 5, tr.Current)
	assert.Equal(t, 5, tr.Longest)
	assert.Equal(t, 4, tr.Previous)

	next := d.Apply(tr)
	assert.True(t, next.HasEntry("2024-06-10"))
	assert.Len(t, d.History, 1, "original must not change")
}

func TestTransition_PatchCarriesVersion(t *testing.T) {
	d := &Data{UserID: "u1", Current: 2, Longest: 2, Version: 7}

	tr, err := d.Reset("2024-06-10", at)
	require.NoError(t, err)
	patch := tr.Patch()
	assert.EqualValues(t, 7, patch.ExpectedVersion)
	require.NotNil(t, patch.AppendHistory)
	assert.Equal(t, HistoryEntry{Date: "2024-06-10", Count: 0}, *patch.AppendHistory)

	assert.EqualValues(t, 8, d.Apply(tr).Version)
}

func TestIncrement_SameDateIsAlreadyProcessed(t *testing.T) {
	d := &Data{UserID: "u1", Current: 3, Longest: 3, History: []HistoryEntry{{Date: "2024-06-10", Count: 3}}}

	_, err := d.Increment("2024-06-10", at)
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)
}

func TestReset_PreservesLongest(t *testing.T) {
	d := &Data{UserID: "u1", Current: 12, Longest: 20}

	tr, err := d.Reset("2024-06-10", at)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Current)
	assert.Equal(t, 20, tr.Longest)

	patch := tr.Patch()
	require.NotNil(t, patch.AppendHistory)
	assert.Equal(t, HistoryEntry{Date: "2024-06-10", Count: 0}, *patch.AppendHistory)
}

func TestStartNew(t *testing.T) {
	d := &Data{UserID: "u1", Current: 0, Longest: 0}

	tr, err := d.StartNew("2024-06-10", at)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Current)
	assert.Equal(t, 1, tr.Longest)
	assert.Equal(t, KindStartNew, tr.Kind)
}

func TestTransitions_RejectBadDates(t *testing.T) {
	d := &Data{UserID: "u1", History: []HistoryEntry{{Date: "2024-06-10", Count: 1}}}

	_, err := d.Increment("10/06/2024", at)
	assert.True(t, shared.IsValidation(err))

	_, err = d.Reset("2024-06-09", at)
	assert.True(t, shared.IsValidation(err))
	assert.True(t, errors.Is(err, shared.ErrStreakDateOutOfOrder))
}

func TestProcessedOnOrAfter(t *testing.T) {
	d := &Data{History: []HistoryEntry{{Date: "2024-06-08", Count: 1}, {Date: "2024-06-10", Count: 2}}}
	assert.True(t, d.ProcessedOnOrAfter("2024-06-09"))
	assert.True(t, d.ProcessedOnOrAfter("2024-06-10"))
	assert.False(t, d.ProcessedOnOrAfter("2024-06-11"))
	assert.False(t, NewData("u2").ProcessedOnOrAfter("2024-06-11"))
}

func TestMilestoneBonus(t *testing.T) {
	tests := []struct {
		current int
		bonus   int
		ok      bool
	}{
		{0, 0, false},
		{6, 0, false},
		{7, 200, true},
		{14, 200, true},
		{28, 200, true},
		{29, 0, false},
		{30, 300, true},
		{35, 200, true},
		{60, 0, false},
	}
	for _, tt := range tests {
		bonus, ok := MilestoneBonus(tt.current)
		assert.Equal(t, tt.ok, ok, "current=%d", tt.current)
		assert.Equal(t, tt.bonus, bonus, "current=%d", tt.current)
	}
}
