// Package streak содержит модель серии дней (streak), в которые пользователь
// выполнил дневную цель, и правила бонусов за вехи.
//
// Состояния: NoStreak (Current == 0) и Active(n) (Current == n ≥ 1).
// Переходы возвращают патч, который применяет репозиторий; сама сущность
// не изменяется, поэтому одно и то же чтение можно безопасно повторить.
package streak

import (
	"time"

	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/timeutil"
)

// Milestone bonuses.
const (
	MonthMilestone      = 30
	MonthMilestoneBonus = 300
	WeekMilestone       = 7
	WeekMilestoneBonus  = 200
)

// HistoryEntry records the streak value after processing a date.
// Count is 0 for a reset.
type HistoryEntry struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Data - состояние серии пользователя. History упорядочена по дате,
// не более одной записи на дату.
type Data struct {
	UserID     string
	Current    int
	Longest    int
	LastUpdate time.Time
	History    []HistoryEntry

	// Version растёт с каждой записью; 0 - записи ещё нет.
	Version int64
}

// NewData returns the NoStreak state for a user.
func NewData(userID string) *Data {
	return &Data{UserID: userID, History: []HistoryEntry{}}
}

// HasEntry reports whether date was already processed.
func (d *Data) HasEntry(date string) bool {
	for i := len(d.History) - 1; i >= 0; i-- {
		if d.History[i].Date == date {
			return true
		}
	}
	return false
}

// LastEntry returns the most recent history entry.
func (d *Data) LastEntry() (HistoryEntry, bool) {
	if len(d.History) == 0 {
		return HistoryEntry{}, false
	}
	return d.History[len(d.History)-1], true
}

// ProcessedOnOrAfter reports whether any date >= date has been recorded.
// Date keys compare correctly as strings.
func (d *Data) ProcessedOnOrAfter(date string) bool {
	last, ok := d.LastEntry()
	return ok && last.Date >= date
}

// IsActive reports whether the user is in the Active(n) state.
func (d *Data) IsActive() bool { return d.Current > 0 }

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Kind names a streak transition.
type Kind string

const (
	KindIncrement Kind = "increment"
	KindReset     Kind = "reset"
	KindStartNew  Kind = "start_new"
)

// Transition is the result of a state change for one date.
type Transition struct {
	Kind     Kind
	Date     string
	Previous int
	Current  int
	Longest  int
	At       time.Time

	// FromVersion is the version of the state the transition was computed on.
	FromVersion int64
}

// Patch converts the transition into a repository update guarded by the
// version it was computed on.
func (t Transition) Patch() Patch {
	current, longest, at := t.Current, t.Longest, t.At
	return Patch{
		ExpectedVersion: t.FromVersion,
		Current:         &current,
		Longest:         &longest,
		LastUpdate:      &at,
		AppendHistory:   &HistoryEntry{Date: t.Date, Count: t.Current},
	}
}

// Increment continues the chain: Current+1.
func (d *Data) Increment(date string, at time.Time) (Transition, error) {
	if err := d.checkDate("Increment", date); err != nil {
		return Transition{}, err
	}
	next := d.Current + 1
	return Transition{
		Kind:     KindIncrement,
		Date:     date,
		Previous: d.Current,
		Current:  next,
		Longest:  max(d.Longest, next),
		At:       at,

		FromVersion: d.Version,
	}, nil
}

// Reset moves to NoStreak. Longest is preserved.
func (d *Data) Reset(date string, at time.Time) (Transition, error) {
	if err := d.checkDate("Reset", date); err != nil {
		return Transition{}, err
	}
	return Transition{
		Kind:     KindReset,
		Date:     date,
		Previous: d.Current,
		Current:  0,
		Longest:  d.Longest,
		At:       at,

		FromVersion: d.Version,
	}, nil
}

// StartNew begins a fresh chain at 1 after a break.
func (d *Data) StartNew(date string, at time.Time) (Transition, error) {
	if err := d.checkDate("StartNew", date); err != nil {
		return Transition{}, err
	}
	return Transition{
		Kind:     KindStartNew,
		Date:     date,
		Previous: d.Current,
		Current:  1,
		Longest:  max(d.Longest, 1),
		At:       at,

		FromVersion: d.Version,
	}, nil
}

func (d *Data) checkDate(op, date string) error {
	if !timeutil.IsValidDate(date) {
		return shared.InvalidInput("streak", op, "invalid date %q", date)
	}
	if d.HasEntry(date) {
		return shared.WrapError("streak", op, shared.ErrAlreadyProcessed, "date already processed: "+date, nil)
	}
	if last, ok := d.LastEntry(); ok && last.Date > date {
		return shared.WrapError("streak", op, shared.ErrInvalidInput,
			"date "+date+" is before last recorded date "+last.Date, shared.ErrStreakDateOutOfOrder)
	}
	return nil
}

// Apply returns a copy of d with the transition applied.
func (d *Data) Apply(t Transition) *Data {
	next := &Data{
		UserID:     d.UserID,
		Current:    t.Current,
		Longest:    t.Longest,
		LastUpdate: t.At,
		History:    make([]HistoryEntry, len(d.History), len(d.History)+1),
		Version:    d.Version + 1,
	}
	copy(next.History, d.History)
	next.History = append(next.History, HistoryEntry{Date: t.Date, Count: t.Current})
	return next
}

// MilestoneBonus returns the one-time bonus for reaching current.
// 30 takes priority over the multiple-of-7 rule, so a single increment
// never yields both.
func MilestoneBonus(current int) (int, bool) {
	switch {
	case current == MonthMilestone:
		return MonthMilestoneBonus, true
	case current > 0 && current%WeekMilestone == 0:
		return WeekMilestoneBonus, true
	default:
		return 0, false
	}
}
