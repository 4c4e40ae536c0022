package achievement

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/timeutil"
)

// UserMetrics - агрегаты, которые считает внешняя система. Только для чтения.
type UserMetrics struct {
	UserID          string
	DecksStudied    []string        // distinct deck ids the user reviewed
	MaxCardsOneDay  int             // running maximum of reviews in a day
	DailyReviews    map[string]int  // date -> reviews that day
	Flags           map[string]bool // one-off facts, e.g. "imported_deck"
	FriendsAdded    int
	DecksShared     int
	PerfectSessions int
}

// MetricFunc computes the current value of a metric. A custom condition is
// satisfied when the value reaches the condition target.
type MetricFunc func(m UserMetrics, params Params) (int, error)

// Metric is a registered custom metric.
type Metric struct {
	Name string

	// RequiredParams are checked when a catalog entry is validated.
	RequiredParams []string

	Eval MetricFunc
}

// MetricRegistry maps metric names to evaluators.
type MetricRegistry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewMetricRegistry creates an empty registry.
func NewMetricRegistry() *MetricRegistry {
	return &MetricRegistry{metrics: make(map[string]Metric)}
}

// Register adds or replaces a metric.
func (r *MetricRegistry) Register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[m.Name] = m
}

// Lookup returns a metric by name.
func (r *MetricRegistry) Lookup(name string) (Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}

// Names returns the registered metric names, sorted.
func (r *MetricRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.metrics))
	for n := range r.metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that a custom condition names a known metric and carries its params.
func (r *MetricRegistry) Validate(c CustomCondition) error {
	m, ok := r.Lookup(c.Metric)
	if !ok {
		return shared.WrapError("achievement", "ValidateMetric", shared.ErrInvalidInput,
			fmt.Sprintf("unknown metric %q", c.Metric), shared.ErrUnknownMetric)
	}
	for _, p := range m.RequiredParams {
		if _, ok := c.Params[p]; !ok {
			return shared.InvalidInput("achievement", "ValidateMetric", "metric %q requires params.%s", c.Metric, p)
		}
	}
	return nil
}

// Evaluate returns the current metric value for a custom condition.
func (r *MetricRegistry) Evaluate(m UserMetrics, c CustomCondition) (int, error) {
	if err := r.Validate(c); err != nil {
		return 0, err
	}
	metric, _ := r.Lookup(c.Metric)
	return metric.Eval(m, c.Params)
}

// ══════════════════════════════════════════════════════════════════════════════
// BUILT-IN METRICS
// ══════════════════════════════════════════════════════════════════════════════

const (
	MetricDistinctDecksStudied  = "distinct_decks_studied"
	MetricMaxCardsOneDay        = "max_cards_one_day"
	MetricFlag                  = "flag"
	MetricMinDailyReviewsStreak = "min_daily_reviews_streak"
	MetricFriendsAdded          = "friends_added"
	MetricDecksShared           = "decks_shared"
	MetricPerfectSessions       = "perfect_sessions"
)

// DefaultMetrics returns a registry with every built-in metric.
func DefaultMetrics() *MetricRegistry {
	r := NewMetricRegistry()

	r.Register(Metric{Name: MetricDistinctDecksStudied, Eval: func(m UserMetrics, _ Params) (int, error) {
		seen := make(map[string]struct{}, len(m.DecksStudied))
		for _, d := range m.DecksStudied {
			seen[d] = struct{}{}
		}
		return len(seen), nil
	}})

	r.Register(Metric{Name: MetricMaxCardsOneDay, Eval: func(m UserMetrics, _ Params) (int, error) {
		best := m.MaxCardsOneDay
		for _, n := range m.DailyReviews {
			best = max(best, n)
		}
		return best, nil
	}})

	r.Register(Metric{Name: MetricFlag, RequiredParams: []string{"flag"}, Eval: evalFlag})

	r.Register(Metric{Name: MetricMinDailyReviewsStreak, RequiredParams: []string{"min_per_day"}, Eval: evalMinDailyStreak})

	r.Register(Metric{Name: MetricFriendsAdded, Eval: func(m UserMetrics, _ Params) (int, error) {
		return m.FriendsAdded, nil
	}})
	r.Register(Metric{Name: MetricDecksShared, Eval: func(m UserMetrics, _ Params) (int, error) {
		return m.DecksShared, nil
	}})
	r.Register(Metric{Name: MetricPerfectSessions, Eval: func(m UserMetrics, _ Params) (int, error) {
		return m.PerfectSessions, nil
	}})

	return r
}

// evalFlag yields 1 when the named flag is set.
func evalFlag(m UserMetrics, params Params) (int, error) {
	name, ok := params.String("flag")
	if !ok || name == "" {
		return 0, shared.InvalidInput("achievement", "evalFlag", "params.flag must be a non-empty string")
	}
	if m.Flags[name] {
		return 1, nil
	}
	return 0, nil
}

// evalMinDailyStreak yields the longest run of consecutive days with at
// least params.min_per_day reviews.
func evalMinDailyStreak(m UserMetrics, params Params) (int, error) {
	minPerDay, ok := params.Int("min_per_day")
	if !ok || minPerDay <= 0 {
		return 0, shared.InvalidInput("achievement", "evalMinDailyStreak", "params.min_per_day must be a positive integer")
	}

	dates := make([]string, 0, len(m.DailyReviews))
	for d, n := range m.DailyReviews {
		if n >= minPerDay && timeutil.IsValidDate(d) {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	best, run := 0, 0
	for i, d := range dates {
		if i > 0 && timeutil.IsConsecutive(dates[i-1], d) {
			run++
		} else {
			run = 1
		}
		best = max(best, run)
	}
	return best, nil
}
