package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/infrastructure/catalog"
	"github.com/cardquest/progression/internal/infrastructure/persistence/memory"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

const validCatalog = `
achievements:
  - id: first-card
    name: First card
    tier: bronze
    xp_reward: 10
    condition:
      type: cards_created
      target: 1
  - id: week-warrior
    name: Week warrior
    description: Keep a 7 day streak
    tier: Silver
    xp_reward: 100
    condition:
      type: streak_length
      target: 7
  - id: steady
    name: Steady learner
    tier: gold
    xp_reward: 250
    condition:
      type: custom
      target: 14
      params:
        metric: min_daily_reviews_streak
        min_per_day: 20
`

type CatalogSuite struct {
	suite.Suite
	store    *memory.Store
	importer *catalog.Importer
	dir      string
}

func (s *CatalogSuite) SetupTest() {
	s.store = memory.New(timeutil.SystemClock{})
	s.importer = catalog.NewImporter(s.store, nil, logger.Nop())
	s.dir = s.T().TempDir()
}

func (s *CatalogSuite) writeFile(content string) string {
	path := filepath.Join(s.dir, "achievements.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *CatalogSuite) TestImportFile() {
	ctx := context.Background()

	res, err := s.importer.ImportFile(ctx, s.writeFile(validCatalog), false)
	s.Require().NoError(err)
	s.Equal(3, res.Imported)

	all, err := s.store.GetAllAchievements(ctx)
	s.Require().NoError(err)
	s.Len(all, 3)

	week, err := s.store.GetAchievement(ctx, "week-warrior")
	s.Require().NoError(err)
	s.Equal(achievement.TierSilver, week.Tier)
	s.Equal(achievement.StreakLength, week.Condition.Type())

	steady, err := s.store.GetAchievement(ctx, "steady")
	s.Require().NoError(err)
	custom, ok := steady.Condition.(achievement.CustomCondition)
	s.Require().True(ok)
	s.Equal(achievement.MetricMinDailyReviewsStreak, custom.Metric)
	n, ok := custom.Params.Int("min_per_day")
	s.True(ok)
	s.Equal(20, n)
}

func (s *CatalogSuite) TestImportIsRepeatable() {
	ctx := context.Background()
	path := s.writeFile(validCatalog)

	_, err := s.importer.ImportFile(ctx, path, false)
	s.Require().NoError(err)
	_, err = s.importer.ImportFile(ctx, path, false)
	s.Require().NoError(err)

	all, err := s.store.GetAllAchievements(ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *CatalogSuite) TestDryRunWritesNothing() {
	res, err := s.importer.ImportFile(context.Background(), s.writeFile(validCatalog), true)
	s.Require().NoError(err)
	s.True(res.DryRun)
	s.Equal(3, res.Valid)
	s.Zero(res.Imported)
	s.Zero(s.store.Calls("UpsertAchievement"))
}

func (s *CatalogSuite) TestInvalidEntriesRejectWholeFile() {
	bad := `
achievements:
  - id: a
    name: A
    tier: bronze
    xp_reward: 10
    condition: {type: friends_made, target: 1}
  - id: b
    name: B
    tier: bronze
    xp_reward: 0
    condition: {type: total_xp, target: 100}
  - id: c
    name: C
    tier: bronze
    xp_reward: 5
    condition: {type: custom, target: 1, params: {metric: no_such_metric}}
  - id: ok
    name: OK
    tier: bronze
    xp_reward: 5
    condition: {type: total_xp, target: 100}
  - id: ok
    name: OK again
    tier: bronze
    xp_reward: 5
    condition: {type: total_xp, target: 200}
`
	_, err := s.importer.ImportFile(context.Background(), s.writeFile(bad), false)
	s.Require().Error(err)
	s.ErrorIs(err, shared.ErrUnknownConditionType)
	s.ErrorIs(err, shared.ErrUnknownMetric)
	s.Contains(err.Error(), "entry 2 (b)")
	s.Contains(err.Error(), `duplicate id "ok"`)
	s.Zero(s.store.Calls("UpsertAchievement"))
}

func (s *CatalogSuite) TestUnknownFieldRejected() {
	_, err := catalog.Parse(strings.NewReader("achievements:\n  - id: a\n    reward: 10\n"), nil)
	s.ErrorContains(err, "reward")
}

func (s *CatalogSuite) TestEmptyFile() {
	items, err := catalog.Parse(strings.NewReader(""), nil)
	s.NoError(err)
	s.Empty(items)
}

func (s *CatalogSuite) TestStoreFailureStopsImport() {
	s.store.FailOn("UpsertAchievement", shared.NewDomainError("achievement", "UpsertAchievement", shared.ErrExternalService, "down"))

	res, err := s.importer.ImportFile(context.Background(), s.writeFile(validCatalog), false)
	s.ErrorContains(err, "upsert first-card")
	s.Zero(res.Imported)
}

func (s *CatalogSuite) TestShippedCatalogIsValid() {
	items, err := catalog.LoadFile(filepath.Join("..", "..", "..", "config", "achievements.yaml"), nil)
	s.Require().NoError(err)
	s.NotEmpty(items)

	for _, a := range items {
		s.NoError(a.Validate(), a.ID)
	}
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogSuite))
}
