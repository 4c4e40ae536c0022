package postgres

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cardquest/progression/internal/domain/activity"
	"github.com/cardquest/progression/internal/domain/shared"
)

// ActivityRepository implements activity.Repository using PostgreSQL.
type ActivityRepository struct {
	conn *Connection
}

var _ activity.Repository = (*ActivityRepository)(nil)

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(conn *Connection) *ActivityRepository {
	return &ActivityRepository{conn: conn}
}

const dailyReturning = `RETURNING user_id, to_char(date, 'YYYY-MM-DD'), cards_reviewed, goal_met, xp_earned, updated_at`

func scanDaily(row pgx.Row) (*activity.DailyProgress, error) {
	var dp activity.DailyProgress
	if err := row.Scan(&dp.UserID, &dp.Date, &dp.CardsReviewed, &dp.GoalMet, &dp.XPEarned, &dp.UpdatedAt); err != nil {
		return nil, err
	}
	return &dp, nil
}

func dailyNotFound(date string) error {
	return shared.NewDomainError("activity", "GetDailyProgress", shared.ErrNotFound, "no daily progress for "+date)
}

// GetDailyProgress returns the record for a day.
func (r *ActivityRepository) GetDailyProgress(ctx context.Context, userID, date string) (*activity.DailyProgress, error) {
	dp, err := scanDaily(r.conn.QueryRow(ctx, `
		SELECT user_id, to_char(date, 'YYYY-MM-DD'), cards_reviewed, goal_met, xp_earned, updated_at
		FROM daily_progress
		WHERE user_id = $1 AND date = $2::date`, userID, date))
	if IsNoRows(err) {
		return nil, dailyNotFound(date)
	}
	if err != nil {
		return nil, classify("activity", "GetDailyProgress", err)
	}
	return dp, nil
}

// UpdateDailyProgress upserts the fields set in patch.
func (r *ActivityRepository) UpdateDailyProgress(ctx context.Context, userID, date string, patch activity.Patch) error {
	cols := []string{"user_id", "date"}
	vals := []interface{}{userID, squirrel.Expr("?::date", date)}
	var updates []string

	if patch.CardsReviewed != nil {
		cols, vals = append(cols, "cards_reviewed"), append(vals, *patch.CardsReviewed)
		updates = append(updates, "cards_reviewed = EXCLUDED.cards_reviewed")
	}
	if patch.GoalMet != nil {
		cols, vals = append(cols, "goal_met"), append(vals, *patch.GoalMet)
		updates = append(updates, "goal_met = EXCLUDED.goal_met")
	}
	if patch.XPEarned != nil {
		cols, vals = append(cols, "xp_earned"), append(vals, *patch.XPEarned)
		updates = append(updates, "xp_earned = EXCLUDED.xp_earned")
	}
	updates = append(updates, "updated_at = NOW()")

	_, err := execBuilt(ctx, r.conn, psql.Insert("daily_progress").
		Columns(cols...).
		Values(vals...).
		Suffix("ON CONFLICT (user_id, date) DO UPDATE SET "+strings.Join(updates, ", ")))
	return classify("activity", "UpdateDailyProgress", err)
}

// IncrementCardsReviewed adds one review in a single upsert. GoalMet never
// flips back once set. With a review id the id is logged in daily_reviews in
// the same transaction, and a logged id leaves the counter alone.
func (r *ActivityRepository) IncrementCardsReviewed(ctx context.Context, userID, date, reviewID string, target int) (*activity.DailyProgress, error) {
	var dp *activity.DailyProgress
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if reviewID != "" {
			tag, err := tx.Exec(ctx, `
				INSERT INTO daily_reviews (user_id, date, review_id)
				VALUES ($1, $2::date, $3)
				ON CONFLICT (user_id, review_id) DO NOTHING`, userID, date, reviewID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				var err error
				dp, err = scanDaily(tx.QueryRow(ctx, `
					SELECT user_id, to_char(date, 'YYYY-MM-DD'), cards_reviewed, goal_met, xp_earned, updated_at
					FROM daily_progress
					WHERE user_id = $1 AND date = $2::date`, userID, date))
				return err
			}
		}

		var err error
		dp, err = scanDaily(tx.QueryRow(ctx, `
			INSERT INTO daily_progress (user_id, date, cards_reviewed, goal_met)
			VALUES ($1, $2::date, 1, 1 >= $3)
			ON CONFLICT (user_id, date) DO UPDATE SET
				cards_reviewed = daily_progress.cards_reviewed + 1,
				goal_met       = daily_progress.goal_met OR daily_progress.cards_reviewed + 1 >= $3,
				updated_at     = NOW()
			`+dailyReturning, userID, date, target))
		return err
	})
	if IsNoRows(err) {
		return nil, dailyNotFound(date)
	}
	if err != nil {
		return nil, classify("activity", "IncrementCardsReviewed", err)
	}
	return dp, nil
}

// MarkDailyXPAwarded sets XPEarned from 0 to amount.
func (r *ActivityRepository) MarkDailyXPAwarded(ctx context.Context, userID, date string, amount int) (bool, error) {
	var marked, exists bool
	err := r.conn.QueryRow(ctx, `
		WITH upd AS (
			UPDATE daily_progress SET xp_earned = $3, updated_at = NOW()
			WHERE user_id = $1 AND date = $2::date AND xp_earned = 0
			RETURNING 1
		)
		SELECT
			EXISTS (SELECT 1 FROM upd),
			EXISTS (SELECT 1 FROM daily_progress WHERE user_id = $1 AND date = $2::date)`,
		userID, date, amount).Scan(&marked, &exists)
	if err != nil {
		return false, classify("activity", "MarkDailyXPAwarded", err)
	}
	if !exists {
		return false, dailyNotFound(date)
	}
	return marked, nil
}

// GoalMetDates returns which of dates have GoalMet for a user.
func (r *ActivityRepository) GoalMetDates(ctx context.Context, userID string, dates []string) (map[string]bool, error) {
	out := make(map[string]bool, len(dates))
	if len(dates) == 0 {
		return out, nil
	}

	rows, err := r.conn.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD')
		FROM daily_progress
		WHERE user_id = $1 AND goal_met AND date = ANY($2::date[])`, userID, dates)
	if err != nil {
		return nil, classify("activity", "GoalMetDates", err)
	}
	met, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("activity", "GoalMetDates", err)
	}
	for _, d := range met {
		out[d] = true
	}
	return out, nil
}
