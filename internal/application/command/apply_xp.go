// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/retry"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY XP COMMAND
// Appends one XP transaction and moves the user's totals and level.
// A (userID, source, sourceID) tuple is applied at most once; the store
// enforces it together with an optimistic version check.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyXPCommand contains the data for one XP gain.
type ApplyXPCommand struct {
	UserID      string
	Amount      int
	Source      progress.Source
	SourceID    string
	Description string
}

// Validate validates the command.
func (c ApplyXPCommand) Validate() error {
	const op = "ApplyXP"
	if strings.TrimSpace(c.UserID) == "" {
		return shared.InvalidInput("progress", op, "user id is required")
	}
	if c.Amount <= 0 {
		return shared.InvalidInput("progress", op, "xp amount must be positive, got %d", c.Amount)
	}
	if c.Amount > progress.MaxTotalXP {
		return shared.InvalidInput("progress", op, "xp amount %d exceeds maximum %d", c.Amount, progress.MaxTotalXP)
	}
	if !c.Source.IsValid() {
		return shared.InvalidInput("progress", op, "unknown xp source %q", c.Source)
	}
	if strings.TrimSpace(c.SourceID) == "" {
		return shared.InvalidInput("progress", op, "source id is required")
	}
	return nil
}

// ApplyXPResult contains the outcome of ApplyXP.
type ApplyXPResult struct {
	// Applied is false when the tuple had already been recorded.
	Applied     bool
	Progress    *progress.UserProgress
	LevelUp     progress.LevelUpResult
	Transaction *progress.XPTransaction
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// XPLedger applies XP deltas to user progress.
type XPLedger struct {
	progressRepo progress.Repository
	publisher    shared.EventPublisher
	calendar     *timeutil.Calendar
	retrier      *retry.Retrier
	newID        func() string
	log          *logger.Logger
}

// NewXPLedger creates a new XPLedger.
func NewXPLedger(
	progressRepo progress.Repository,
	publisher shared.EventPublisher,
	calendar *timeutil.Calendar,
	log *logger.Logger,
) *XPLedger {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if calendar == nil {
		calendar = timeutil.NewCalendar(nil, nil)
	}
	if log == nil {
		log = logger.Default()
	}
	return &XPLedger{
		progressRepo: progressRepo,
		publisher:    publisher,
		calendar:     calendar,
		retrier:      retry.LedgerRetrier(shared.IsConcurrentModification),
		newID:        func() string { return uuid.New().String() },
		log:          log.Named("xp_ledger"),
	}
}

// WithRetrier replaces the retry policy for version conflicts.
func (l *XPLedger) WithRetrier(r *retry.Retrier) *XPLedger {
	l.retrier = r
	return l
}

// ApplyXP records the gain and returns the updated progress.
// A duplicate tuple is not an error: the result has Applied == false and
// carries the current progress.
func (l *XPLedger) ApplyXP(ctx context.Context, cmd ApplyXPCommand) (*ApplyXPResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	key := progress.TransactionKey{UserID: cmd.UserID, Source: cmd.Source, SourceID: cmd.SourceID}
	result := &ApplyXPResult{}

	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		current, err := l.LoadOrCreate(ctx, cmd.UserID)
		if err != nil {
			return err
		}

		exists, err := l.progressRepo.TransactionExists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			*result = ApplyXPResult{Applied: false, Progress: current}
			return nil
		}

		totals, levelUp, err := current.WithXP(cmd.Amount)
		if err != nil {
			return err
		}

		txn, err := progress.NewXPTransaction(progress.NewXPTransactionParams{
			ID:          l.newID(),
			UserID:      cmd.UserID,
			Amount:      cmd.Amount,
			Source:      cmd.Source,
			SourceID:    cmd.SourceID,
			Description: cmd.Description,
			CreatedAt:   l.calendar.Now().UTC(),
		})
		if err != nil {
			return err
		}

		updated, err := l.progressRepo.CommitXP(ctx, progress.XPCommit{
			Transaction:      txn,
			Totals:           totals,
			ExpectedVersion:  current.Version,
			LastActivityDate: l.calendar.Today(),
		})
		switch {
		case shared.IsAlreadyExists(err):
			// lost a race against the same tuple
			fresh, getErr := l.progressRepo.GetUserProgress(ctx, cmd.UserID)
			if getErr != nil {
				return getErr
			}
			*result = ApplyXPResult{Applied: false, Progress: fresh}
			return nil
		case err != nil:
			return err
		}

		*result = ApplyXPResult{Applied: true, Progress: updated, LevelUp: levelUp, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Applied {
		l.log.Debug("duplicate xp transaction ignored",
			logger.UserID(cmd.UserID), logger.Source(string(cmd.Source)), logger.SourceID(cmd.SourceID))
		return result, nil
	}

	l.log.Info("xp applied",
		logger.UserID(cmd.UserID),
		logger.XPAmount(cmd.Amount),
		logger.Source(string(cmd.Source)),
		logger.SourceID(cmd.SourceID),
		logger.Int("total_xp", result.Progress.TotalXP),
		logger.Int("level", result.Progress.Level),
	)
	l.publishApplied(ctx, result)

	return result, nil
}

// LoadOrCreate returns the user's progress, creating it on first use.
func (l *XPLedger) LoadOrCreate(ctx context.Context, userID string) (*progress.UserProgress, error) {
	p, err := l.progressRepo.GetUserProgress(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}
	return l.progressRepo.CreateUserProgress(ctx, userID)
}

func (l *XPLedger) publishApplied(ctx context.Context, r *ApplyXPResult) {
	txn := r.Transaction
	events := []shared.Event{
		shared.NewXPGainedEvent(txn.UserID, txn.Amount, r.Progress.TotalXP, string(txn.Source), txn.SourceID),
	}
	if r.LevelUp.LeveledUp {
		events = append(events, shared.NewLevelUpEvent(txn.UserID, r.LevelUp.OldLevel, r.LevelUp.NewLevel, r.Progress.TotalXP))
	}
	publishAll(ctx, l.publisher, l.log, events...)
}

// publishAll publishes events; failures are logged and never fail the command.
func publishAll(ctx context.Context, p shared.EventPublisher, log *logger.Logger, events ...shared.Event) {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.UserID(e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}
