package command_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cardquest/progression/internal/application/command"
	"github.com/cardquest/progression/internal/domain/activity"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/infrastructure/persistence/memory"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	today     = "2026-03-10"
	yesterday = "2026-03-09"
	twoAgo    = "2026-03-08"
)

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *eventRecorder) Publish(_ context.Context, e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *memory.Store
	calendar *timeutil.Calendar
	events   *eventRecorder
	ledger   *command.XPLedger
	goals    *command.DailyGoalTracker
	streaks  *command.StreakTracker
	recorder *command.ActivityRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := timeutil.FixedClock(testNow)
	store := memory.New(clock)
	cal := timeutil.NewCalendar(time.UTC, clock)
	events := &eventRecorder{}
	log := logger.Nop()

	ledger := command.NewXPLedger(store, events, cal, log)
	goals := command.NewDailyGoalTracker(store, ledger, events, command.DefaultDailyGoalConfig(), log)
	streaks := command.NewStreakTracker(store, store, store, ledger, events, cal, log)

	return &fixture{
		store:    store,
		calendar: cal,
		events:   events,
		ledger:   ledger,
		goals:    goals,
		streaks:  streaks,
		recorder: command.NewActivityRecorder(ledger, goals, streaks, nil, cal, log),
	}
}

// goalMet marks the daily goal of date as met.
func (f *fixture) goalMet(userID, date string) {
	f.store.PutDailyProgress(activity.DailyProgress{
		UserID:        userID,
		Date:          date,
		CardsReviewed: activity.DefaultDailyTarget,
		GoalMet:       true,
	})
}

func (f *fixture) runner() *command.BatchRunner {
	return command.NewBatchRunner(command.BatchConfig{BatchSize: 2}, logger.Nop())
}
