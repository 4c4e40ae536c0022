package activity

import "context"

// Repository stores daily progress records keyed by (userID, date).
type Repository interface {
	// GetDailyProgress returns the record for a day.
	// Returns an error of kind shared.ErrNotFound if the day has no record.
	GetDailyProgress(ctx context.Context, userID, date string) (*DailyProgress, error)

	// UpdateDailyProgress upserts the fields set in patch.
	UpdateDailyProgress(ctx context.Context, userID, date string, patch Patch) error

	// IncrementCardsReviewed atomically adds one review, creating the record
	// at 1 if absent, and sets GoalMet once target is reached. A non-empty
	// reviewID is counted at most once; repeating it returns the record
	// unchanged.
	IncrementCardsReviewed(ctx context.Context, userID, date, reviewID string, target int) (*DailyProgress, error)

	// MarkDailyXPAwarded sets XPEarned from 0 to amount.
	// Returns false if XPEarned was already non-zero.
	MarkDailyXPAwarded(ctx context.Context, userID, date string, amount int) (bool, error)

	// GoalMetDates returns which of the given dates have GoalMet for a user.
	GoalMetDates(ctx context.Context, userID string, dates []string) (map[string]bool, error)
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	CardsReviewed *int
	GoalMet       *bool
	XPEarned      *int
}
