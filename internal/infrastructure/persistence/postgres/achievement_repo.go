package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/logger"
)

// AchievementRepository implements achievement.Repository using PostgreSQL.
// Conditions are stored as JSONB in their ConditionSpec shape.
type AchievementRepository struct {
	conn *Connection
	log  *logger.Logger
}

var _ achievement.Repository = (*AchievementRepository)(nil)

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection, log *logger.Logger) *AchievementRepository {
	if log == nil {
		log = logger.Default()
	}
	return &AchievementRepository{conn: conn, log: log.Named("achievement_repo")}
}

const catalogSelect = `SELECT id, name, description, tier, xp_reward, condition FROM achievements`

func scanAchievement(row pgx.Row) (*achievement.Achievement, error) {
	var a achievement.Achievement
	var tier string
	var raw []byte
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &tier, &a.XPReward, &raw); err != nil {
		return nil, err
	}
	a.Tier = achievement.Tier(tier)

	var spec achievement.ConditionSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, shared.WrapError("achievement", "scan", shared.ErrInvalidInput, "bad condition json for "+a.ID, err)
	}
	cond, err := achievement.ParseCondition(spec)
	if err != nil {
		return nil, err
	}
	a.Condition = cond
	return &a, nil
}

// GetAllAchievements returns the catalog ordered by id. Rows whose
// condition no longer parses are logged and left out.
func (r *AchievementRepository) GetAllAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	rows, err := r.conn.Query(ctx, catalogSelect+` ORDER BY id`)
	if err != nil {
		return nil, classify("achievement", "GetAllAchievements", err)
	}
	defer rows.Close()

	var out []*achievement.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if shared.IsValidation(err) {
			r.log.Warn("skipping catalog entry", logger.Err(err))
			continue
		}
		if err != nil {
			return nil, classify("achievement", "GetAllAchievements", err)
		}
		out = append(out, a)
	}
	return out, classify("achievement", "GetAllAchievements", rows.Err())
}

// GetAchievement returns one catalog entry.
func (r *AchievementRepository) GetAchievement(ctx context.Context, id string) (*achievement.Achievement, error) {
	a, err := scanAchievement(r.conn.QueryRow(ctx, catalogSelect+` WHERE id = $1`, id))
	if IsNoRows(err) {
		return nil, shared.ErrAchievementNotFound
	}
	if err != nil {
		return nil, classify("achievement", "GetAchievement", err)
	}
	return a, nil
}

// GetUserAchievements returns the unlocked achievements of a user.
func (r *AchievementRepository) GetUserAchievements(ctx context.Context, userID string) ([]achievement.UserAchievement, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT achievement_id, unlocked_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY achievement_id`, userID)
	if err != nil {
		return nil, classify("achievement", "GetUserAchievements", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (achievement.UserAchievement, error) {
		ua := achievement.UserAchievement{UserID: userID, Progress: 100}
		var at time.Time
		if err := row.Scan(&ua.AchievementID, &at); err != nil {
			return ua, err
		}
		ua.UnlockedAt = &at
		return ua, nil
	})
	if err != nil {
		return nil, classify("achievement", "GetUserAchievements", err)
	}
	return out, nil
}

// UnlockAchievement inserts the unlock row; the first writer wins and
// later callers get the stored timestamp with IsNewUnlock false.
func (r *AchievementRepository) UnlockAchievement(ctx context.Context, userID, id string) (achievement.UnlockResult, error) {
	var res achievement.UnlockResult
	err := r.conn.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id, achievement_id) DO NOTHING
			RETURNING unlocked_at
		)
		SELECT TRUE, unlocked_at FROM ins
		UNION ALL
		SELECT FALSE, unlocked_at FROM user_achievements WHERE user_id = $1 AND achievement_id = $2
		LIMIT 1`, userID, id).Scan(&res.IsNewUnlock, &res.UnlockedAt)
	switch {
	case IsForeignKeyViolation(err):
		return res, shared.ErrAchievementNotFound
	case err != nil:
		return res, classify("achievement", "UnlockAchievement", err)
	}
	return res, nil
}

// UpsertAchievement creates or replaces a catalog entry.
func (r *AchievementRepository) UpsertAchievement(ctx context.Context, a *achievement.Achievement) error {
	if err := a.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(achievement.SpecOf(a.Condition))
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}

	_, err = execBuilt(ctx, r.conn, psql.Insert("achievements").
		Columns("id", "name", "description", "tier", "xp_reward", "condition").
		Values(a.ID, a.Name, a.Description, string(a.Tier), a.XPReward, raw).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			tier = EXCLUDED.tier,
			xp_reward = EXCLUDED.xp_reward,
			condition = EXCLUDED.condition,
			updated_at = NOW()`))
	return classify("achievement", "UpsertAchievement", err)
}
