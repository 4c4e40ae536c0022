// Package activity contains the per-day review counters behind the daily goal.
// This is a pure domain layer with zero external dependencies.
package activity

import (
	"time"

	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/timeutil"
)

const (
	// DefaultDailyTarget is the number of reviews that completes the daily goal.
	DefaultDailyTarget = 20

	// DailyGoalReward is the one-time XP bonus for completing the daily goal.
	DailyGoalReward = 50
)

// DailyProgress holds one user's counters for one calendar day.
// GoalMet flips to true once CardsReviewed reaches the target and never back.
// XPEarned is 0 until the daily bonus is awarded, then equals the reward.
type DailyProgress struct {
	UserID        string
	Date          string
	CardsReviewed int
	GoalMet       bool
	XPEarned      int
	UpdatedAt     time.Time
}

// NewDailyProgress creates an empty record for a date.
func NewDailyProgress(userID, date string) (*DailyProgress, error) {
	if err := ValidateDate("NewDailyProgress", date); err != nil {
		return nil, err
	}
	return &DailyProgress{UserID: userID, Date: date}, nil
}

// RecordReview adds one review and flips GoalMet when target is reached.
func (dp *DailyProgress) RecordReview(target int, at time.Time) {
	dp.CardsReviewed++
	if dp.CardsReviewed >= target {
		dp.GoalMet = true
	}
	dp.UpdatedAt = at
}

// XPAwarded reports whether the daily bonus was already granted.
func (dp *DailyProgress) XPAwarded() bool {
	return dp.XPEarned > 0
}

// Status summarizes the record against a target.
func (dp *DailyProgress) Status(target int) GoalStatus {
	return GoalStatus{
		Date:           dp.Date,
		GoalMet:        dp.GoalMet,
		CardsReviewed:  dp.CardsReviewed,
		CardsRemaining: max(target-dp.CardsReviewed, 0),
		XPEarned:       dp.XPEarned,
	}
}

// GoalStatus is the answer to "how is today going".
type GoalStatus struct {
	Date           string
	GoalMet        bool
	CardsReviewed  int
	CardsRemaining int
	XPEarned       int
}

// EmptyStatus is the status of a day without any record.
func EmptyStatus(date string, target int) GoalStatus {
	return GoalStatus{Date: date, CardsRemaining: target}
}

// ValidateDate rejects anything that is not a canonical YYYY-MM-DD key.
func ValidateDate(op, date string) error {
	if !timeutil.IsValidDate(date) {
		return shared.InvalidInput("activity", op, "invalid date %q, expected YYYY-MM-DD", date)
	}
	return nil
}
