package saga

import (
	"context"
	"sync"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONDITION HANDLERS
// One handler per condition type. Count-based types read the XP ledger,
// so "10 cards created" means ten card_creation transactions.
// ══════════════════════════════════════════════════════════════════════════════

// countedSources maps count-based condition types to their ledger source.
var countedSources = map[achievement.ConditionType]progress.Source{
	achievement.CardsCreated:        progress.SourceCardCreation,
	achievement.ReviewsCompleted:    progress.SourceReview,
	achievement.DecksCreated:        progress.SourceDeckCreation,
	achievement.DailyGoalsCompleted: progress.SourceDailyGoal,
}

// RegisterBuiltinHandlers binds every built-in condition type.
func RegisterBuiltinHandlers(reg *achievement.HandlerRegistry, progressRepo progress.Repository, streakRepo streak.Repository) {
	for t, src := range countedSources {
		reg.Register(t, transactionCounter(progressRepo, src))
	}

	reg.Register(achievement.StreakLength, achievement.HandlerFunc(
		func(ctx context.Context, userID string, _ achievement.Condition) (int, error) {
			data, err := streakRepo.GetStreakData(ctx, userID)
			if shared.IsNotFound(err) {
				return 0, nil
			}
			if err != nil {
				return 0, err
			}
			return data.Current, nil
		}))

	reg.Register(achievement.TotalXP, progressField(progressRepo, func(p *progress.UserProgress) int { return p.TotalXP }))
	reg.Register(achievement.LevelReached, progressField(progressRepo, func(p *progress.UserProgress) int { return p.Level }))
}

// RegisterCustomHandler binds the custom condition type to a metric registry.
func RegisterCustomHandler(reg *achievement.HandlerRegistry, reader achievement.MetricsReader, metrics *achievement.MetricRegistry) {
	reg.Register(achievement.Custom, achievement.HandlerFunc(
		func(ctx context.Context, userID string, c achievement.Condition) (int, error) {
			custom, ok := c.(achievement.CustomCondition)
			if !ok {
				return 0, shared.InvalidInput("achievement", "CustomHandler", "expected a custom condition, got %s", c.Type())
			}
			m, err := loadMetrics(ctx, reader, userID)
			if err != nil {
				return 0, err
			}
			return metrics.Evaluate(m, custom)
		}))
}

func transactionCounter(repo progress.Repository, src progress.Source) achievement.Handler {
	return achievement.HandlerFunc(func(ctx context.Context, userID string, _ achievement.Condition) (int, error) {
		return repo.CountTransactions(ctx, userID, src)
	})
}

func progressField(repo progress.Repository, field func(*progress.UserProgress) int) achievement.Handler {
	return achievement.HandlerFunc(func(ctx context.Context, userID string, _ achievement.Condition) (int, error) {
		p, err := repo.GetUserProgress(ctx, userID)
		if shared.IsNotFound(err) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return field(p), nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-pass metrics cache
// ─────────────────────────────────────────────────────────────────────────────

type metricsCacheKey struct{}

type metricsCache struct {
	once sync.Once
	m    achievement.UserMetrics
	err  error
}

// withMetricsCache makes every custom condition in one evaluation pass share
// a single GetUserMetrics call.
func withMetricsCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, metricsCacheKey{}, &metricsCache{})
}

func loadMetrics(ctx context.Context, reader achievement.MetricsReader, userID string) (achievement.UserMetrics, error) {
	cache, ok := ctx.Value(metricsCacheKey{}).(*metricsCache)
	if !ok {
		return reader.GetUserMetrics(ctx, userID)
	}
	cache.once.Do(func() {
		cache.m, cache.err = reader.GetUserMetrics(ctx, userID)
	})
	return cache.m, cache.err
}
