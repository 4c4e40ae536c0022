package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardquest/progression/config"
	"github.com/cardquest/progression/internal/infrastructure/scheduler"
	"github.com/cardquest/progression/pkg/logger"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and event handlers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *cli) error {
	cfg, log := c.cfg, c.log
	log.Info("starting progression worker",
		logger.String("timezone", cfg.App.Timezone),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// ─────────────────────────────────────────────────────────────────────────
	// ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:   log,
			Timezone: cfg.App.Location,
		})
		sched.OnJobError(func(job string, err error) {
			log.Error("scheduled job failed", logger.Job(job), logger.Err(err))
		})

		if err := sched.Register(a.reconcileStreaksJob(), scheduler.CronSchedule(cfg.Scheduler.ReconcileStreaksCron)); err != nil {
			return fmt.Errorf("register reconcile_streaks: %w", err)
		}
		if cfg.Features.IsEnabled(config.FeatureEvaluateAchievements) {
			if err := sched.Register(a.evaluateAchievementsJob(), scheduler.EverySchedule(cfg.Scheduler.EvaluateAchievementsEvery)); err != nil {
				return fmt.Errorf("register evaluate_achievements: %w", err)
			}
		}

		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		for _, j := range sched.ListJobs() {
			log.Info("job scheduled",
				logger.Job(j.Name),
				logger.String("schedule", j.Schedule),
				logger.Time("next_run", j.NextRun),
			)
		}
	}

	log.Info("progression worker is running")
	<-ctx.Done()

	// ─────────────────────────────────────────────────────────────────────────
	// GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if sched != nil {
			if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
				log.Warn("scheduler stop failed", logger.Err(err))
			}
		}
	}()

	select {
	case <-done:
		log.Info("shutdown completed successfully")
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timed out, running jobs abandoned")
	}
	return nil
}
