package achievement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/domain/shared"
)

func TestParseCondition_Builtin(t *testing.T) {
	c, err := ParseCondition(ConditionSpec{Type: "cards_created", Target: 10})
	require.NoError(t, err)

	tc, ok := c.(ThresholdCondition)
	require.True(t, ok)
	assert.Equal(t, CardsCreated, tc.Type())
	assert.Equal(t, 10, tc.Target())
}

func TestParseCondition_Rejects(t *testing.T) {
	tests := []struct {
		name string
		spec ConditionSpec
	}{
		{"unknown type", ConditionSpec{Type: "cards_deleted", Target: 1}},
		{"zero target", ConditionSpec{Type: "total_xp", Target: 0}},
		{"params on builtin", ConditionSpec{Type: "level_reached", Target: 5, Params: map[string]any{"x": 1}}},
		{"custom without metric", ConditionSpec{Type: "custom", Target: 1}},
		{"custom with non-string metric", ConditionSpec{Type: "custom", Target: 1, Params: map[string]any{"metric": 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCondition(tt.spec)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
		})
	}

	_, err := ParseCondition(ConditionSpec{Type: "nope", Target: 1})
	assert.True(t, errors.Is(err, shared.ErrUnknownConditionType))
}

func TestParseCondition_CustomRoundTrip(t *testing.T) {
	spec := ConditionSpec{
		Type:   "custom",
		Target: 5,
		Params: map[string]any{"metric": "min_daily_reviews_streak", "min_per_day": 10},
	}

	c, err := ParseCondition(spec)
	require.NoError(t, err)

	cc, ok := c.(CustomCondition)
	require.True(t, ok)
	assert.Equal(t, "min_daily_reviews_streak", cc.Metric)
	assert.NotContains(t, cc.Params, "metric")

	assert.Equal(t, spec, SpecOf(c))
	assert.Contains(t, spec.Params, "metric", "input params must not be mutated")
}

func TestParams_Int(t *testing.T) {
	p := Params{"a": 3, "b": float64(4), "c": 4.5, "d": "12", "e": true}

	n, ok := p.Int("a")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = p.Int("b")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = p.Int("c")
	assert.False(t, ok)

	n, ok = p.Int("d")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = p.Int("e")
	assert.False(t, ok)
	_, ok = p.Int("missing")
	assert.False(t, ok)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 10))
	assert.Equal(t, 50, Percent(5, 10))
	assert.Equal(t, 99, Percent(99, 100))
	assert.Equal(t, 100, Percent(10, 10))
	assert.Equal(t, 100, Percent(25, 10))
}

func TestAchievement_Validate(t *testing.T) {
	a := &Achievement{ID: "first-card", Name: "First card", Tier: TierBronze, XPReward: 10,
		Condition: ThresholdCondition{Kind: CardsCreated, Goal: 1}}
	require.NoError(t, a.Validate())

	a.XPReward = 0
	assert.True(t, shared.IsValidation(a.Validate()))

	a.XPReward = 10
	a.Tier = "diamond"
	assert.True(t, shared.IsValidation(a.Validate()))
}
