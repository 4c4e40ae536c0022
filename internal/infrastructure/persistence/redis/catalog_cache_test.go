package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/infrastructure/persistence/memory"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

// jsonMap keeps values JSON-encoded like Redis does.
type jsonMap struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet error
}

func newJSONMap() *jsonMap { return &jsonMap{data: make(map[string][]byte)} }

func (m *jsonMap) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return m.failGet
	}
	raw, ok := m.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *jsonMap) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func (m *jsonMap) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *jsonMap) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func newCatalogFixture(t *testing.T) (*memory.Store, *jsonMap, *CatalogCache) {
	t.Helper()

	store := memory.New(timeutil.SystemClock{})
	cond, err := achievement.ParseCondition(achievement.ConditionSpec{
		Type:   string(achievement.Custom),
		Target: 7,
		Params: map[string]any{"metric": achievement.MetricMinDailyReviewsStreak, "min_per_day": 10},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.UpsertAchievement(ctx, &achievement.Achievement{
		ID: "steady", Name: "Steady", Tier: achievement.TierSilver, XPReward: 75, Condition: cond,
	}))
	require.NoError(t, store.UpsertAchievement(ctx, &achievement.Achievement{
		ID: "first-card", Name: "First card", Tier: achievement.TierBronze, XPReward: 10,
		Condition: achievement.ThresholdCondition{Kind: achievement.CardsCreated, Goal: 1},
	}))

	cache := newJSONMap()
	return store, cache, NewCatalogCache(store, cache, time.Minute, logger.Nop())
}

func TestCatalogCache_ReadThrough(t *testing.T) {
	store, cache, cc := newCatalogFixture(t)
	ctx := context.Background()

	first, err := cc.GetAllAchievements(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, cache.has(CatalogKey()))

	second, err := cc.GetAllAchievements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls("GetAllAchievements"))
	require.Len(t, second, 2)

	var steady *achievement.Achievement
	for _, a := range second {
		if a.ID == "steady" {
			steady = a
		}
	}
	require.NotNil(t, steady)
	custom, ok := steady.Condition.(achievement.CustomCondition)
	require.True(t, ok)
	assert.Equal(t, achievement.MetricMinDailyReviewsStreak, custom.Metric)
	minPerDay, ok := custom.Params.Int("min_per_day")
	assert.True(t, ok)
	assert.Equal(t, 10, minPerDay)
}

func TestCatalogCache_GetAchievement(t *testing.T) {
	store, _, cc := newCatalogFixture(t)
	ctx := context.Background()

	for range 3 {
		a, err := cc.GetAchievement(ctx, "steady")
		require.NoError(t, err)
		assert.Equal(t, 7, a.Condition.Target())
	}
	assert.Equal(t, 1, store.Calls("GetAchievement"))

	_, err := cc.GetAchievement(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestCatalogCache_UpsertInvalidates(t *testing.T) {
	store, cache, cc := newCatalogFixture(t)
	ctx := context.Background()

	_, err := cc.GetAllAchievements(ctx)
	require.NoError(t, err)
	_, err = cc.GetAchievement(ctx, "first-card")
	require.NoError(t, err)

	require.NoError(t, cc.UpsertAchievement(ctx, &achievement.Achievement{
		ID: "first-card", Name: "First card", Tier: achievement.TierBronze, XPReward: 20,
		Condition: achievement.ThresholdCondition{Kind: achievement.CardsCreated, Goal: 1},
	}))
	assert.False(t, cache.has(CatalogKey()))
	assert.False(t, cache.has(AchievementKey("first-card")))

	a, err := cc.GetAchievement(ctx, "first-card")
	require.NoError(t, err)
	assert.Equal(t, 20, a.XPReward)
	assert.Equal(t, 2, store.Calls("GetAchievement"))
}

func TestCatalogCache_DegradesOnCacheFailure(t *testing.T) {
	store, cache, cc := newCatalogFixture(t)
	cache.failGet = errors.New("connection refused")

	all, err := cc.GetAllAchievements(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, store.Calls("GetAllAchievements"))
}

func TestCatalogCache_DropsUnreadableEntry(t *testing.T) {
	store, cache, cc := newCatalogFixture(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, AchievementKey("steady"), catalogEntry{
		ID: "steady", Condition: achievement.ConditionSpec{Type: "bogus", Target: 1},
	}, 0))

	a, err := cc.GetAchievement(ctx, "steady")
	require.NoError(t, err)
	assert.Equal(t, "Steady", a.Name)
	assert.Equal(t, 1, store.Calls("GetAchievement"))
}
