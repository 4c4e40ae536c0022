package main

import (
	"context"
	"fmt"

	"github.com/cardquest/progression/config"
	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/application/eventhandler"
	"github.com/cardquest/progression/internal/application/query"
	"github.com/cardquest/progression/internal/application/saga"
	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/infrastructure/external/push"
	"github.com/cardquest/progression/internal/infrastructure/messaging"
	"github.com/cardquest/progression/internal/infrastructure/persistence/postgres"
	redisstore "github.com/cardquest/progression/internal/infrastructure/persistence/redis"
	"github.com/cardquest/progression/internal/infrastructure/scheduler/jobs"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION GRAPH
// ══════════════════════════════════════════════════════════════════════════════

// app holds every wired component of the worker.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db    *postgres.Connection
	cache *redisstore.Cache // nil when Redis is disabled or unreachable
	bus   *messaging.InMemoryEventBus

	progress     *postgres.ProgressRepository
	// achievements is the catalog cache decorator when enabled, so imports
	// through it invalidate stale keys.
	achievements achievement.Repository

	ledger    *command.XPLedger
	dailyGoal *command.DailyGoalTracker
	streaks   *command.StreakTracker
	evaluator *saga.AchievementEvaluator
	recorder  *command.ActivityRecorder
	summary   *query.GetProgressSummaryHandler

	locker jobs.Locker
}

// openApp connects to the stores and builds the service graph.
// The caller must call close.
func openApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	a.db, err = postgres.NewConnection(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(a.db).Migrate(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", applied))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Redis.Disabled {
		a.cache, err = redisstore.NewCache(redisstore.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   3,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// без Redis работаем: нет кеша каталога, блокировок и форвардинга
			log.Warn("redis unavailable, running without cache and job locks", logger.Err(err))
			a.cache, err = nil, nil
		} else {
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. РЕПОЗИТОРИИ
	// ─────────────────────────────────────────────────────────────────────────
	a.progress = postgres.NewProgressRepository(a.db)
	streakRepo := postgres.NewStreakRepository(a.db)
	activityRepo := postgres.NewActivityRepository(a.db)
	metricsRepo := postgres.NewMetricsRepository(a.db)
	achievementRepo := postgres.NewAchievementRepository(a.db, log)

	a.achievements = achievementRepo
	if a.cache != nil && cfg.Features.IsEnabled(config.FeatureCatalogCache) {
		a.achievements = redisstore.NewCatalogCache(achievementRepo, a.cache, cfg.Redis.CatalogTTL, log)
	}
	if a.cache != nil {
		a.locker = redisLocker{redisstore.NewJobLocker(a.cache.Client(), cfg.Redis.JobLockTTL)}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	a.bus = messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: cfg.Progression.EventWorkers,
		HandlerTimeout: cfg.Progression.HandlerTimeout,
		Logger:         log,
	})

	if a.cache != nil && cfg.Features.IsEnabled(config.FeatureEventForwarding) {
		fwd := messaging.NewRedisForwarder(a.cache.Client(), cfg.Redis.EventsChannel, log)
		if err := fwd.Attach(a.bus); err != nil {
			return nil, fmt.Errorf("attach redis forwarder: %w", err)
		}
	}

	if !cfg.Push.Disabled && cfg.Features.IsEnabled(config.FeatureNotifyAchievements) {
		client := push.NewClient(push.ClientConfig{
			BaseURL: cfg.Push.BaseURL,
			APIKey:  cfg.Push.APIKey,
			Timeout: cfg.Push.Timeout,
			Logger:  log,
		})
		notify := eventhandler.NewOnProgressNotifyHandler(metricsRepo, client, log, eventhandler.NotifyConfig{
			NotifyMilestones: cfg.Features.IsEnabled(config.FeatureNotifyMilestones),
			NotifyLevelUp:    cfg.Features.IsEnabled(config.FeatureNotifyLevelUp),
		})
		if err := notify.Register(a.bus); err != nil {
			return nil, fmt.Errorf("register notify handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. СЕРВИСЫ ПРОГРЕССА
	// ─────────────────────────────────────────────────────────────────────────
	calendar := timeutil.NewCalendar(cfg.App.Location, timeutil.SystemClock{})

	a.ledger = command.NewXPLedger(a.progress, a.bus, calendar, log)
	a.dailyGoal = command.NewDailyGoalTracker(activityRepo, a.ledger, a.bus, command.DailyGoalConfig{
		Target: cfg.Progression.DailyGoalTarget,
		Reward: cfg.Progression.DailyGoalReward,
	}, log)
	a.streaks = command.NewStreakTracker(streakRepo, a.progress, activityRepo, a.ledger, a.bus, calendar, log)
	a.evaluator = saga.NewAchievementEvaluator(
		a.achievements,
		a.progress,
		streakRepo,
		metricsRepo,
		achievement.DefaultMetrics(),
		a.ledger,
		a.bus,
		calendar,
		log,
	)
	a.recorder = command.NewActivityRecorder(a.ledger, a.dailyGoal, a.streaks, a.evaluator, calendar, log)
	a.summary = query.NewGetProgressSummaryHandler(
		a.progress,
		activityRepo,
		streakRepo,
		a.achievements,
		cfg.Progression.DailyGoalTarget,
		calendar,
	)

	return a, nil
}

func (a *app) batchConfig() command.BatchConfig {
	return command.BatchConfig{
		BatchSize: a.cfg.Progression.BatchSize,
		Delay:     a.cfg.Progression.BatchDelay,
	}
}

func (a *app) reconcileStreaksJob() *jobs.ReconcileStreaksJob {
	return jobs.NewReconcileStreaksJob(a.streaks, a.progress, a.locker, jobs.ReconcileStreaksConfig{
		Batch:   a.batchConfig(),
		Timeout: a.cfg.Scheduler.ReconcileStreaksTimeout,
	}, a.log)
}

func (a *app) evaluateAchievementsJob() *jobs.EvaluateAchievementsJob {
	return jobs.NewEvaluateAchievementsJob(a.evaluator, a.progress, a.locker, jobs.EvaluateAchievementsConfig{
		Batch:   a.batchConfig(),
		Timeout: a.cfg.Scheduler.EvaluateAchievementsTimeout,
	}, a.log)
}

// close releases resources in reverse order. The bus is drained first so
// in-flight notifications and forwards can still reach Redis.
func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("event bus close failed", logger.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("redis close failed", logger.Err(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// redisLocker adapts the Redis job locker to jobs.Locker.
type redisLocker struct {
	locker *redisstore.JobLocker
}

func (l redisLocker) TryLock(ctx context.Context, job string) (jobs.Lock, bool, error) {
	lock, ok, err := l.locker.TryLock(ctx, job)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lock, true, nil
}
