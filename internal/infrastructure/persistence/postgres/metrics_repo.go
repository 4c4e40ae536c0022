package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/notification"
)

// MetricsRepository serves custom achievement metrics and device tokens.
// Daily review counts come from daily_progress; the other aggregates are
// written to user_metrics by the services that own them.
type MetricsRepository struct {
	conn *Connection
}

var (
	_ achievement.MetricsReader    = (*MetricsRepository)(nil)
	_ notification.TokenRepository = (*MetricsRepository)(nil)
)

// NewMetricsRepository creates a new MetricsRepository.
func NewMetricsRepository(conn *Connection) *MetricsRepository {
	return &MetricsRepository{conn: conn}
}

// GetUserMetrics assembles UserMetrics for one user.
func (r *MetricsRepository) GetUserMetrics(ctx context.Context, userID string) (achievement.UserMetrics, error) {
	m := achievement.UserMetrics{UserID: userID, DailyReviews: map[string]int{}, Flags: map[string]bool{}}

	var flags []byte
	err := r.conn.QueryRow(ctx, `
		SELECT decks_studied, flags, friends_added, decks_shared, perfect_sessions
		FROM user_metrics WHERE user_id = $1`, userID,
	).Scan(&m.DecksStudied, &flags, &m.FriendsAdded, &m.DecksShared, &m.PerfectSessions)
	if err != nil && !IsNoRows(err) {
		return m, classify("achievement", "GetUserMetrics", err)
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &m.Flags); err != nil {
			return m, fmt.Errorf("decode metric flags for %s: %w", userID, err)
		}
	}

	rows, err := r.conn.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), cards_reviewed
		FROM daily_progress
		WHERE user_id = $1 AND cards_reviewed > 0`, userID)
	if err != nil {
		return m, classify("achievement", "GetUserMetrics", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date string
		var n int
		if err := rows.Scan(&date, &n); err != nil {
			return m, classify("achievement", "GetUserMetrics", err)
		}
		m.DailyReviews[date] = n
		m.MaxCardsOneDay = max(m.MaxCardsOneDay, n)
	}
	return m, classify("achievement", "GetUserMetrics", rows.Err())
}

// UpsertUserMetrics stores the externally owned aggregates of m.
// DailyReviews and MaxCardsOneDay are derived and ignored here.
func (r *MetricsRepository) UpsertUserMetrics(ctx context.Context, m achievement.UserMetrics) error {
	flags, err := json.Marshal(m.Flags)
	if err != nil {
		return fmt.Errorf("encode metric flags: %w", err)
	}
	decks := m.DecksStudied
	if decks == nil {
		decks = []string{}
	}

	_, err = execBuilt(ctx, r.conn, psql.Insert("user_metrics").
		Columns("user_id", "decks_studied", "flags", "friends_added", "decks_shared", "perfect_sessions").
		Values(m.UserID, decks, flags, m.FriendsAdded, m.DecksShared, m.PerfectSessions).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			decks_studied = EXCLUDED.decks_studied,
			flags = EXCLUDED.flags,
			friends_added = EXCLUDED.friends_added,
			decks_shared = EXCLUDED.decks_shared,
			perfect_sessions = EXCLUDED.perfect_sessions,
			updated_at = NOW()`))
	return classify("achievement", "UpsertUserMetrics", err)
}

// GetPushTokens returns the device tokens of a user.
func (r *MetricsRepository) GetPushTokens(ctx context.Context, userID string) ([]notification.PushToken, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, token, platform, created_at
		FROM push_tokens WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, classify("notification", "GetPushTokens", err)
	}

	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notification.PushToken, error) {
		var t notification.PushToken
		var platform string
		err := row.Scan(&t.UserID, &t.Token, &platform, &t.CreatedAt)
		t.Platform = notification.Platform(platform)
		return t, err
	})
	if err != nil {
		return nil, classify("notification", "GetPushTokens", err)
	}
	return tokens, nil
}

// SavePushToken registers a device token.
func (r *MetricsRepository) SavePushToken(ctx context.Context, t notification.PushToken) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO push_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token) DO UPDATE SET platform = EXCLUDED.platform`,
		t.UserID, t.Token, string(t.Platform))
	return classify("notification", "SavePushToken", err)
}
