package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/application/query"
	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/infrastructure/catalog"
	"github.com/cardquest/progression/internal/infrastructure/persistence/postgres"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// BATCH ENTRY POINTS
// ══════════════════════════════════════════════════════════════════════════════

func newReconcileStreaksCmd(c *cli) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "reconcile-streaks",
		Short: "Run the nightly streak batch once",
		Long: "Reconciles every user's streak for the day before --date " +
			"(default: today in APP_TIMEZONE). Users already processed for that day are skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date != "" && !timeutil.IsValidDate(date) {
				return fmt.Errorf("--date %q: want YYYY-MM-DD", date)
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			job := a.reconcileStreaksJob()
			runErr := job.RunFor(cmd.Context(), date)
			if s := job.LastStats(); s != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"reference %s: %d/%d users, +%d incremented, %d reset, %d started, %d skipped, %d bonuses, %d errors\n",
					s.ReferenceDate, s.Processed, s.TotalUsers,
					s.Incremented, s.Reset, s.Started, s.Skipped, s.BonusesIssued, len(s.Errors))
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD; the batch reconciles the day before it")
	return cmd
}

func newEvaluateAchievementsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate-achievements",
		Short: "Evaluate the achievement catalog for every user once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			job := a.evaluateAchievementsJob()
			runErr := job.Run(cmd.Context())
			if s := job.LastStats(); s != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d/%d users, %d unlocked, %d errors\n",
					s.Processed, s.TotalUsers, s.Unlocked, len(s.Errors))
			}
			return runErr
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG & SCHEMA
// ══════════════════════════════════════════════════════════════════════════════

func newCatalogCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the achievement catalog",
	}

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert achievements from a YAML file",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("catalog file is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics := achievement.DefaultMetrics()

			// dry run validates without touching the database
			if dryRun {
				res, err := catalog.NewImporter(nil, metrics, c.log).ImportFile(cmd.Context(), args[0], true)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d achievements valid (dry run)\n", res.Valid)
				return nil
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := catalog.NewImporter(a.achievements, metrics, c.log).ImportFile(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d achievements imported\n", res.Imported)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")

	cmd.AddCommand(importCmd)
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := postgres.NewConnection(cmd.Context(), postgres.Config{
				URL:            c.cfg.Database.URL,
				MaxConns:       2,
				ConnectTimeout: c.cfg.Database.ConnectTimeout,
			})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer conn.Close()

			applied, err := postgres.NewMigrator(conn).Migrate(cmd.Context())
			if err != nil {
				return err
			}
			c.log.Info("migrations applied", logger.Int("count", applied))
			fmt.Fprintf(cmd.OutOrStdout(), "%d migrations applied\n", applied)
			return nil
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL ACTIVITY
// Для поддержки: ручная запись повторения и начисление XP.
// ══════════════════════════════════════════════════════════════════════════════

func newReviewCmd(c *cli) *cobra.Command {
	var (
		difficulty string
		deckID     string
		at         string
	)

	cmd := &cobra.Command{
		Use:   "review <user-id> <card-id>",
		Short: "Record one card review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewCmd := command.ProcessCardReviewCommand{
				UserID:     args[0],
				CardID:     args[1],
				DeckID:     deckID,
				Difficulty: progress.Difficulty(difficulty),
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				reviewCmd.ReviewedAt = t
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.recorder.ProcessCardReview(cmd.Context(), reviewCmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !res.Applied {
				fmt.Fprintln(out, "review already recorded")
				return nil
			}
			fmt.Fprintf(out, "+%d XP, level %d (%d total)\n", res.XP, res.Progress.Level, res.Progress.TotalXP)
			fmt.Fprintf(out, "daily goal %s: %d reviewed, %d remaining\n",
				res.Daily.Date, res.Daily.CardsReviewed, res.Daily.CardsRemaining)
			if res.Streak != nil {
				fmt.Fprintf(out, "streak %d (longest %d)\n", res.Streak.Current, res.Streak.Longest)
			}
			for _, u := range res.Unlocked {
				fmt.Fprintf(out, "unlocked %s (+%d XP)\n", u.Name, u.XPReward)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&difficulty, "difficulty", string(progress.DifficultyGood), "again, hard, good or easy")
	cmd.Flags().StringVar(&deckID, "deck", "", "deck id")
	cmd.Flags().StringVar(&at, "at", "", "review time RFC3339; reuse it to retry the same review")
	return cmd
}

func newAddXPCmd(c *cli) *cobra.Command {
	var (
		source      string
		sourceID    string
		description string
	)

	cmd := &cobra.Command{
		Use:   "add-xp <user-id> <amount>",
		Short: "Grant XP outside the review flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[1], err)
			}
			src, err := progress.ParseSource(source)
			if err != nil {
				return err
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.recorder.AddXP(cmd.Context(), command.AddXPCommand{
				UserID:      args[0],
				Amount:      amount,
				Source:      src,
				SourceID:    sourceID,
				Description: description,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !res.Applied {
				fmt.Fprintf(out, "%s/%s already granted\n", src, sourceID)
				return nil
			}
			fmt.Fprintf(out, "level %d (%d total)\n", res.Progress.Level, res.Progress.TotalXP)
			for _, u := range res.Unlocked {
				fmt.Fprintf(out, "unlocked %s (+%d XP)\n", u.Name, u.XPReward)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", string(progress.SourceManualAdjustment), "xp source")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "idempotency key within the source")
	cmd.Flags().StringVar(&description, "description", "", "ledger description")
	_ = cmd.MarkFlagRequired("source-id")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	var (
		date         string
		achievements bool
	)

	cmd := &cobra.Command{
		Use:   "status <user-id>",
		Short: "Print a user's progress summary as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := query.GetProgressSummaryQuery{UserID: args[0], Date: date, IncludeAchievements: achievements}
			if err := q.Validate(); err != nil {
				return err
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			sum, err := a.summary.Handle(cmd.Context(), q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day for the daily goal YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&achievements, "achievements", false, "include unlocked achievements")
	return cmd
}
