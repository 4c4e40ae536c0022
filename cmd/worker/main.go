// Package main - точка входа фонового процесса прогрессии.
//
// Worker отвечает за:
// - Ночную сверку серий (reconcile-streaks)
// - Ежечасную проверку достижений по всем пользователям
// - Импорт каталога достижений из YAML
// - Миграции схемы
//
// Команда serve запускает планировщик и держит шину событий, которая
// рассылает push-уведомления и зеркалирует события в Redis.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardquest/progression/config"
	"github.com/cardquest/progression/pkg/logger"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// cli carries state shared by every subcommand once the root has run.
type cli struct {
	cfg *config.Config
	log *logger.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "worker",
		Short:         "Progression worker: XP ledger, streaks and achievements",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			c.log = logger.New(logger.Options{
				Output:    os.Stdout,
				Level:     logger.ParseLevel(cfg.Observability.LogLevel),
				AddCaller: cfg.IsDevelopment(),
			}).With(
				logger.String("app", cfg.App.Name),
				logger.String("env", string(cfg.App.Environment)),
				logger.String("version", Version),
			)
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(c),
		newReconcileStreaksCmd(c),
		newEvaluateAchievementsCmd(c),
		newCatalogCmd(c),
		newMigrateCmd(c),
		newReviewCmd(c),
		newAddXPCmd(c),
		newStatusCmd(c),
	)
	return root
}

// open builds the application graph for one command invocation.
func (c *cli) open(ctx context.Context) (*app, error) {
	return openApp(ctx, c.cfg, c.log)
}
