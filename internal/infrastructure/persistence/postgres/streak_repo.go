package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
)

// StreakRepository implements streak.Repository using PostgreSQL.
// History rows live in streak_history keyed by (user_id, date).
type StreakRepository struct {
	conn *Connection
}

var _ streak.Repository = (*StreakRepository)(nil)

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{conn: conn}
}

// GetStreakData loads the streak and its full history.
func (r *StreakRepository) GetStreakData(ctx context.Context, userID string) (*streak.Data, error) {
	d := streak.NewData(userID)
	var lastUpdate *time.Time

	err := r.conn.QueryRow(ctx,
		`SELECT current, longest, last_update, version FROM streaks WHERE user_id = $1`, userID,
	).Scan(&d.Current, &d.Longest, &lastUpdate, &d.Version)
	if IsNoRows(err) {
		return nil, shared.ErrStreakNotFound
	}
	if err != nil {
		return nil, classify("streak", "GetStreakData", err)
	}
	if lastUpdate != nil {
		d.LastUpdate = *lastUpdate
	}

	rows, err := r.conn.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), count
		FROM streak_history
		WHERE user_id = $1
		ORDER BY date`, userID)
	if err != nil {
		return nil, classify("streak", "GetStreakData", err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (streak.HistoryEntry, error) {
		var e streak.HistoryEntry
		err := row.Scan(&e.Date, &e.Count)
		return e, err
	})
	if err != nil {
		return nil, classify("streak", "GetStreakData", err)
	}
	d.History = append(d.History, history...)
	return d, nil
}

// UpdateStreak creates the row if needed, then bumps the version guarded
// by ExpectedVersion and appends the history entry. Nothing is written on a
// version mismatch or when the history date exists.
func (r *StreakRepository) UpdateStreak(ctx context.Context, userID string, patch streak.Patch) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO streaks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}

		q := psql.Update("streaks").
			Set("version", squirrel.Expr("version + 1")).
			Where(squirrel.Eq{"user_id": userID, "version": patch.ExpectedVersion})
		if patch.Current != nil {
			q = q.Set("current", *patch.Current)
		}
		if patch.Longest != nil {
			q = q.Set("longest", *patch.Longest)
		}
		if patch.LastUpdate != nil {
			q = q.Set("last_update", *patch.LastUpdate)
		}
		tag, err := execBuilt(ctx, tx, q)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrStaleStreak
		}

		if h := patch.AppendHistory; h != nil {
			tag, err := tx.Exec(ctx, `
				INSERT INTO streak_history (user_id, date, count)
				VALUES ($1, $2::date, $3)
				ON CONFLICT (user_id, date) DO NOTHING`, userID, h.Date, h.Count)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return shared.ErrStreakDateRecorded
			}
		}
		return nil
	})
	return classify("streak", "UpdateStreak", err)
}
