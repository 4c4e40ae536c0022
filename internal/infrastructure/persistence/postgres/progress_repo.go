package postgres

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
)

// ProgressRepository implements progress.Repository using PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

var _ progress.Repository = (*ProgressRepository)(nil)

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var progressColumns = []string{
	"user_id", "level", "current_xp", "total_xp", "current_streak", "longest_streak",
	"COALESCE(to_char(last_activity_date, 'YYYY-MM-DD'), '')",
	"achievements", "version", "created_at", "updated_at",
}

func scanProgress(row pgx.Row) (*progress.UserProgress, error) {
	var p progress.UserProgress
	err := row.Scan(
		&p.UserID, &p.Level, &p.CurrentXP, &p.TotalXP, &p.CurrentStreak, &p.LongestStreak,
		&p.LastActivityDate, &p.Achievements, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Achievements == nil {
		p.Achievements = []string{}
	}
	return &p, nil
}

// GetUserProgress returns the progress row of a user.
func (r *ProgressRepository) GetUserProgress(ctx context.Context, userID string) (*progress.UserProgress, error) {
	row, err := queryRowBuilt(ctx, r.conn, psql.Select(progressColumns...).
		From("user_progress").
		Where(squirrel.Eq{"user_id": userID}))
	if err != nil {
		return nil, err
	}

	p, err := scanProgress(row)
	if IsNoRows(err) {
		return nil, shared.ErrUserProgressNotFound
	}
	if err != nil {
		return nil, classify("progress", "GetUserProgress", err)
	}
	return p, nil
}

// CreateUserProgress inserts an empty row unless one exists and returns the current state.
func (r *ProgressRepository) CreateUserProgress(ctx context.Context, userID string) (*progress.UserProgress, error) {
	_, err := execBuilt(ctx, r.conn, psql.Insert("user_progress").
		Columns("user_id").
		Values(userID).
		Suffix("ON CONFLICT (user_id) DO NOTHING"))
	if err != nil {
		return nil, classify("progress", "CreateUserProgress", err)
	}
	return r.GetUserProgress(ctx, userID)
}

// UpdateUserProgress applies the non-XP fields of patch.
func (r *ProgressRepository) UpdateUserProgress(ctx context.Context, userID string, patch progress.ProgressPatch) error {
	q := psql.Update("user_progress").
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"user_id": userID})

	if patch.CurrentStreak != nil {
		q = q.Set("current_streak", *patch.CurrentStreak)
	}
	if patch.LongestStreak != nil {
		q = q.Set("longest_streak", *patch.LongestStreak)
	}
	if patch.LastActivityDate != nil {
		q = q.Set("last_activity_date", squirrel.Expr("NULLIF(?, '')::date", *patch.LastActivityDate))
	}
	if patch.AddAchievement != nil {
		q = q.Set("achievements", squirrel.Expr(
			"CASE WHEN ? = ANY(achievements) THEN achievements ELSE array_append(achievements, ?) END",
			*patch.AddAchievement, *patch.AddAchievement))
	}

	tag, err := execBuilt(ctx, r.conn, q)
	if err != nil {
		return classify("progress", "UpdateUserProgress", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserProgressNotFound
	}
	return nil
}

// TransactionExists reports whether the ledger already holds key.
func (r *ProgressRepository) TransactionExists(ctx context.Context, key progress.TransactionKey) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM xp_transactions
			WHERE user_id = $1 AND source = $2 AND source_id = $3
		)`, key.UserID, string(key.Source), key.SourceID).Scan(&exists)
	if err != nil {
		return false, classify("progress", "TransactionExists", err)
	}
	return exists, nil
}

func insertTransaction(txn *progress.XPTransaction) squirrel.InsertBuilder {
	return psql.Insert("xp_transactions").
		Columns("id", "user_id", "amount", "source", "source_id", "description", "created_at").
		Values(txn.ID, txn.UserID, txn.Amount, string(txn.Source), txn.SourceID, txn.Description, txn.CreatedAt)
}

// CreateXPTransaction appends to the ledger without touching totals.
func (r *ProgressRepository) CreateXPTransaction(ctx context.Context, txn *progress.XPTransaction) error {
	_, err := execBuilt(ctx, r.conn, insertTransaction(txn))
	if IsUniqueViolation(err) {
		return shared.ErrDuplicateTransaction
	}
	return classify("progress", "CreateXPTransaction", err)
}

// CommitXP inserts the transaction and writes the new totals in one
// database transaction. The duplicate check runs before the version check,
// so two racing writers of the same key see AlreadyExists, not a conflict.
func (r *ProgressRepository) CommitXP(ctx context.Context, commit progress.XPCommit) (*progress.UserProgress, error) {
	txn := commit.Transaction
	var out *progress.UserProgress

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := execBuilt(ctx, tx, insertTransaction(txn).
			Suffix("ON CONFLICT ON CONSTRAINT xp_transactions_key DO NOTHING"))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrDuplicateTransaction
		}

		row, err := queryRowBuilt(ctx, tx, psql.Update("user_progress").
			Set("total_xp", commit.Totals.TotalXP).
			Set("level", commit.Totals.Level).
			Set("current_xp", commit.Totals.CurrentXP).
			Set("last_activity_date", squirrel.Expr("COALESCE(NULLIF(?, '')::date, last_activity_date)", commit.LastActivityDate)).
			Set("version", squirrel.Expr("version + 1")).
			Set("updated_at", squirrel.Expr("NOW()")).
			Where(squirrel.Eq{"user_id": txn.UserID, "version": commit.ExpectedVersion}).
			Suffix("RETURNING "+strings.Join(progressColumns, ", ")))
		if err != nil {
			return err
		}

		out, err = scanProgress(row)
		if IsNoRows(err) {
			return r.missOrStale(ctx, tx, txn.UserID)
		}
		return err
	})
	if err != nil {
		return nil, classify("progress", "CommitXP", err)
	}
	return out, nil
}

// missOrStale explains why a versioned update touched no row.
func (r *ProgressRepository) missOrStale(ctx context.Context, q Querier, userID string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_progress WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return shared.ErrUserProgressNotFound
	}
	return shared.ErrStaleProgress
}

// CountTransactions counts ledger entries of a user for one source.
func (r *ProgressRepository) CountTransactions(ctx context.Context, userID string, source progress.Source) (int, error) {
	row, err := queryRowBuilt(ctx, r.conn, psql.Select("COUNT(*)").
		From("xp_transactions").
		Where(squirrel.Eq{"user_id": userID, "source": string(source)}))
	if err != nil {
		return 0, err
	}

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, classify("progress", "CountTransactions", err)
	}
	return n, nil
}

// GetAllUserIDs returns every user with progress or a streak.
func (r *ProgressRepository) GetAllUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id FROM user_progress
		UNION
		SELECT user_id FROM streaks
		ORDER BY user_id`)
	if err != nil {
		return nil, classify("progress", "GetAllUserIDs", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("progress", "GetAllUserIDs", err)
	}
	return ids, nil
}
