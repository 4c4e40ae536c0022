// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/activity"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
	"github.com/cardquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS SUMMARY QUERY
// Сводка прогресса пользователя: уровень, дневная цель, серия и
// открытые достижения. Только чтение: ничего не создаёт и не начисляет.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressSummaryQuery содержит параметры запроса.
type GetProgressSummaryQuery struct {
	UserID string

	// Date - день для дневной цели (пустая = сегодня в часовом поясе приложения).
	Date string

	// IncludeAchievements - включить открытые достижения.
	IncludeAchievements bool
}

// Validate проверяет корректность параметров.
func (q GetProgressSummaryQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.InvalidInput("query", "GetProgressSummary", "user id is required")
	}
	if q.Date != "" {
		return activity.ValidateDate("GetProgressSummary", q.Date)
	}
	return nil
}

// LevelDTO - уровень и прогресс до следующего.
type LevelDTO struct {
	Level     int `json:"level"`
	TotalXP   int `json:"total_xp"`
	CurrentXP int `json:"current_xp"` // внутри текущего уровня

	// XPForNext - сколько всего XP нужно для следующего уровня.
	XPForNext   int `json:"xp_for_next"`
	XPToNext    int `json:"xp_to_next"`
	ProgressPct int `json:"progress_percent"`

	IsNewProfile bool `json:"is_new_profile"`
}

// DailyGoalDTO - состояние дневной цели.
type DailyGoalDTO struct {
	Date           string `json:"date"`
	Target         int    `json:"target"`
	CardsReviewed  int    `json:"cards_reviewed"`
	CardsRemaining int    `json:"cards_remaining"`
	GoalMet        bool   `json:"goal_met"`
	XPEarned       int    `json:"xp_earned"`
}

// StreakDTO - информация о серии.
type StreakDTO struct {
	Current int `json:"current"`
	Longest int `json:"longest"`

	// LastProcessedDate - последний день, который обработал ночной пересчёт.
	LastProcessedDate string `json:"last_processed_date,omitempty"`

	// IsAtRisk - серия активна, а цель на сегодня ещё не выполнена.
	IsAtRisk bool `json:"is_at_risk"`

	// NextMilestone - ближайший день серии с бонусом XP.
	NextMilestone      int `json:"next_milestone"`
	NextMilestoneBonus int `json:"next_milestone_bonus"`
}

// UnlockedAchievementDTO - открытое достижение.
type UnlockedAchievementDTO struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Tier       achievement.Tier `json:"tier"`
	XPReward   int              `json:"xp_reward"`
	UnlockedAt time.Time        `json:"unlocked_at"`
}

// ProgressSummaryDTO - результат запроса.
type ProgressSummaryDTO struct {
	UserID       string                   `json:"user_id"`
	Level        LevelDTO                 `json:"level"`
	DailyGoal    DailyGoalDTO             `json:"daily_goal"`
	Streak       StreakDTO                `json:"streak"`
	Achievements []UnlockedAchievementDTO `json:"achievements,omitempty"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressSummaryHandler обрабатывает запрос сводки.
type GetProgressSummaryHandler struct {
	progressRepo    progress.Repository
	activityRepo    activity.Repository
	streakRepo      streak.Repository
	achievementRepo achievement.Repository
	dailyTarget     int
	calendar        *timeutil.Calendar
}

// NewGetProgressSummaryHandler создаёт обработчик.
func NewGetProgressSummaryHandler(
	progressRepo progress.Repository,
	activityRepo activity.Repository,
	streakRepo streak.Repository,
	achievementRepo achievement.Repository,
	dailyTarget int,
	calendar *timeutil.Calendar,
) *GetProgressSummaryHandler {
	if calendar == nil {
		calendar = timeutil.NewCalendar(nil, nil)
	}
	return &GetProgressSummaryHandler{
		progressRepo:    progressRepo,
		activityRepo:    activityRepo,
		streakRepo:      streakRepo,
		achievementRepo: achievementRepo,
		dailyTarget:     dailyTarget,
		calendar:        calendar,
	}
}

// Handle выполняет запрос. Пользователь без записи прогресса получает
// нулевую сводку с IsNewProfile.
func (h *GetProgressSummaryHandler) Handle(ctx context.Context, q GetProgressSummaryQuery) (*ProgressSummaryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	date := q.Date
	if date == "" {
		date = h.calendar.Today()
	}

	p, err := h.progressRepo.GetUserProgress(ctx, q.UserID)
	isNew := shared.IsNotFound(err)
	switch {
	case isNew:
		p = progress.NewUserProgress(q.UserID, h.calendar.Now())
	case err != nil:
		return nil, shared.WrapError("query", "GetProgressSummary", shared.ErrExternalService, "load progress", err)
	}

	result := &ProgressSummaryDTO{
		UserID:      q.UserID,
		Level:       buildLevel(p, isNew),
		GeneratedAt: h.calendar.Now(),
	}

	daily, err := h.dailyGoal(ctx, q.UserID, date)
	if err != nil {
		return nil, err
	}
	result.DailyGoal = daily

	s, err := h.streakRepo.GetStreakData(ctx, q.UserID)
	if shared.IsNotFound(err) {
		s, err = streak.NewData(q.UserID), nil
	}
	if err != nil {
		return nil, shared.WrapError("query", "GetProgressSummary", shared.ErrExternalService, "load streak", err)
	}
	result.Streak = buildStreak(s, daily.GoalMet)

	if q.IncludeAchievements {
		result.Achievements, err = h.unlocked(ctx, q.UserID)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (h *GetProgressSummaryHandler) dailyGoal(ctx context.Context, userID, date string) (DailyGoalDTO, error) {
	status := activity.EmptyStatus(date, h.dailyTarget)

	dp, err := h.activityRepo.GetDailyProgress(ctx, userID, date)
	switch {
	case shared.IsNotFound(err):
	case err != nil:
		return DailyGoalDTO{}, shared.WrapError("query", "GetProgressSummary", shared.ErrExternalService, "load daily progress", err)
	default:
		status = dp.Status(h.dailyTarget)
	}

	return DailyGoalDTO{
		Date:           status.Date,
		Target:         h.dailyTarget,
		CardsReviewed:  status.CardsReviewed,
		CardsRemaining: status.CardsRemaining,
		GoalMet:        status.GoalMet,
		XPEarned:       status.XPEarned,
	}, nil
}

// unlocked returns unlocked achievements, newest first. Entries no longer
// in the catalog are still listed by id.
func (h *GetProgressSummaryHandler) unlocked(ctx context.Context, userID string) ([]UnlockedAchievementDTO, error) {
	records, err := h.achievementRepo.GetUserAchievements(ctx, userID)
	if err != nil {
		return nil, shared.WrapError("query", "GetProgressSummary", shared.ErrExternalService, "load user achievements", err)
	}
	all, err := h.achievementRepo.GetAllAchievements(ctx)
	if err != nil {
		return nil, shared.WrapError("query", "GetProgressSummary", shared.ErrExternalService, "load catalog", err)
	}
	byID := make(map[string]*achievement.Achievement, len(all))
	for _, a := range all {
		byID[a.ID] = a
	}

	out := make([]UnlockedAchievementDTO, 0, len(records))
	for _, r := range records {
		if !r.IsUnlocked() {
			continue
		}
		dto := UnlockedAchievementDTO{ID: r.AchievementID, Name: r.AchievementID, UnlockedAt: *r.UnlockedAt}
		if a, ok := byID[r.AchievementID]; ok {
			dto.Name, dto.Tier, dto.XPReward = a.Name, a.Tier, a.XPReward
		}
		out = append(out, dto)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UnlockedAt.After(out[j].UnlockedAt) })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func buildLevel(p *progress.UserProgress, isNew bool) LevelDTO {
	next := progress.XPForNextLevel(p.Level)
	dto := LevelDTO{
		Level:        p.Level,
		TotalXP:      p.TotalXP,
		CurrentXP:    p.CurrentXP,
		XPForNext:    next,
		XPToNext:     progress.XPToNextLevel(p.TotalXP, p.Level),
		IsNewProfile: isNew,
	}
	floor := 0
	if p.Level > 0 {
		floor = progress.XPForNextLevel(p.Level - 1)
	}
	if span := next - floor; span > 0 {
		dto.ProgressPct = min(p.CurrentXP*100/span, 100)
	}
	return dto
}

func buildStreak(s *streak.Data, goalMetToday bool) StreakDTO {
	dto := StreakDTO{
		Current:  s.Current,
		Longest:  s.Longest,
		IsAtRisk: s.IsActive() && !goalMetToday,
	}
	if last, ok := s.LastEntry(); ok {
		dto.LastProcessedDate = last.Date
	}

	for day := s.Current + 1; ; day++ {
		if bonus, ok := streak.MilestoneBonus(day); ok {
			dto.NextMilestone, dto.NextMilestoneBonus = day, bonus
			break
		}
	}
	return dto
}
