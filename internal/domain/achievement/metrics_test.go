package achievement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/domain/shared"
)

func custom(metric string, goal int, params Params) CustomCondition {
	return CustomCondition{Metric: metric, Goal: goal, Params: params}
}

func TestDefaultMetrics_Registered(t *testing.T) {
	r := DefaultMetrics()
	assert.Equal(t, []string{
		MetricDecksShared,
		MetricDistinctDecksStudied,
		MetricFlag,
		MetricFriendsAdded,
		MetricMaxCardsOneDay,
		MetricMinDailyReviewsStreak,
		MetricPerfectSessions,
	}, r.Names())
}

func TestMetric_DistinctDecks(t *testing.T) {
	r := DefaultMetrics()
	m := UserMetrics{DecksStudied: []string{"a", "b", "a", "c"}}

	v, err := r.Evaluate(m, custom(MetricDistinctDecksStudied, 3, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestMetric_MaxCardsOneDay(t *testing.T) {
	r := DefaultMetrics()
	m := UserMetrics{MaxCardsOneDay: 40, DailyReviews: map[string]int{"2024-06-01": 55, "2024-06-02": 12}}

	v, err := r.Evaluate(m, custom(MetricMaxCardsOneDay, 50, nil))
	require.NoError(t, err)
	assert.Equal(t, 55, v)
}

func TestMetric_Flag(t *testing.T) {
	r := DefaultMetrics()
	m := UserMetrics{Flags: map[string]bool{"imported_deck": true}}

	v, err := r.Evaluate(m, custom(MetricFlag, 1, Params{"flag": "imported_deck"}))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = r.Evaluate(m, custom(MetricFlag, 1, Params{"flag": "night_owl"}))
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = r.Evaluate(m, custom(MetricFlag, 1, nil))
	assert.True(t, shared.IsValidation(err))
}

func TestMetric_MinDailyReviewsStreak(t *testing.T) {
	r := DefaultMetrics()
	m := UserMetrics{DailyReviews: map[string]int{
		"2024-06-01": 12,
		"2024-06-02": 15,
		"2024-06-03": 9, // below threshold, breaks the run
		"2024-06-04": 10,
		"2024-06-05": 10,
		"2024-06-06": 30,
		"2024-06-08": 50,
	}}

	v, err := r.Evaluate(m, custom(MetricMinDailyReviewsStreak, 3, Params{"min_per_day": 10}))
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = r.Evaluate(m, custom(MetricMinDailyReviewsStreak, 3, Params{"min_per_day": 0}))
	assert.True(t, shared.IsValidation(err))
}

func TestMetric_Counters(t *testing.T) {
	r := DefaultMetrics()
	m := UserMetrics{FriendsAdded: 2, DecksShared: 5, PerfectSessions: 7}

	for metric, want := range map[string]int{
		MetricFriendsAdded:    2,
		MetricDecksShared:     5,
		MetricPerfectSessions: 7,
	} {
		v, err := r.Evaluate(m, custom(metric, 1, nil))
		require.NoError(t, err)
		assert.Equal(t, want, v, metric)
	}
}

func TestMetric_Unknown(t *testing.T) {
	r := DefaultMetrics()
	_, err := r.Evaluate(UserMetrics{}, custom("telepathy", 1, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnknownMetric))
}

func TestMetricRegistry_RegisterExtends(t *testing.T) {
	r := DefaultMetrics()
	r.Register(Metric{Name: "always_five", Eval: func(UserMetrics, Params) (int, error) { return 5, nil }})

	v, err := r.Evaluate(UserMetrics{}, custom("always_five", 5, nil))
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}
