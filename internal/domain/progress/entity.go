package progress

import (
	"slices"
	"strings"
	"time"

	"github.com/cardquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// Source определяет, за что начислен опыт.
type Source string

const (
	SourceReview           Source = "review"
	SourceAchievement      Source = "achievement"
	SourceDailyGoal        Source = "daily_goal"
	SourceStreakBonus      Source = "streak_bonus"
	SourceCardCreation     Source = "card_creation"
	SourceDeckCreation     Source = "deck_creation"
	SourceManualAdjustment Source = "manual_adjustment"
)

// IsValid проверяет, что источник входит в закрытый список.
func (s Source) IsValid() bool {
	switch s {
	case SourceReview, SourceAchievement, SourceDailyGoal, SourceStreakBonus,
		SourceCardCreation, SourceDeckCreation, SourceManualAdjustment:
		return true
	}
	return false
}

func (s Source) String() string { return string(s) }

// ParseSource разбирает строковое значение источника.
func ParseSource(s string) (Source, error) {
	src := Source(strings.TrimSpace(s))
	if !src.IsValid() {
		return "", shared.InvalidInput("progress", "ParseSource", "unknown xp source %q", s)
	}
	return src, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW DIFFICULTY
// ══════════════════════════════════════════════════════════════════════════════

// Difficulty is the rating a user gives a card during review.
type Difficulty string

const (
	DifficultyAgain Difficulty = "again"
	DifficultyHard  Difficulty = "hard"
	DifficultyGood  Difficulty = "good"
	DifficultyEasy  Difficulty = "easy"
)

var reviewXP = map[Difficulty]int{
	DifficultyAgain: 5,
	DifficultyHard:  10,
	DifficultyGood:  15,
	DifficultyEasy:  20,
}

// CalculateXPForReview maps a review rating to its fixed XP amount.
func CalculateXPForReview(d Difficulty) (int, error) {
	xp, ok := reviewXP[d]
	if !ok {
		return 0, shared.InvalidInput("progress", "CalculateXPForReview", "unknown difficulty %q", d)
	}
	return xp, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress - агрегированное состояние прогресса пользователя.
// Инвариант: CurrentXP == TotalXP - 100 × Level², и Level соответствует TotalXP.
type UserProgress struct {
	UserID           string
	Level            int
	CurrentXP        int
	TotalXP          int
	CurrentStreak    int
	LongestStreak    int
	LastActivityDate string // YYYY-MM-DD, пусто если активности ещё не было
	Achievements     []string

	// Version растёт с каждой записью XP; используется для compare-and-swap.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserProgress создаёт пустой прогресс (уровень 0).
func NewUserProgress(userID string, now time.Time) *UserProgress {
	return &UserProgress{
		UserID:       userID,
		Achievements: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasAchievement проверяет, открыто ли достижение.
func (p *UserProgress) HasAchievement(id string) bool {
	return slices.Contains(p.Achievements, id)
}

// WithXP returns the totals after adding amount, plus the level transition.
// The receiver is not modified.
func (p *UserProgress) WithXP(amount int) (Totals, LevelUpResult, error) {
	if amount <= 0 {
		return Totals{}, LevelUpResult{}, shared.InvalidInput("progress", "WithXP", "xp amount must be positive, got %d", amount)
	}
	// checked before adding, the sum itself could wrap
	if amount > MaxTotalXP-p.TotalXP {
		return Totals{}, LevelUpResult{}, shared.InvalidInput("progress", "WithXP",
			"xp amount %d would push total %d past maximum %d", amount, p.TotalXP, MaxTotalXP)
	}

	newTotal := p.TotalXP + amount
	levelUp, err := CheckLevelUp(p.TotalXP, newTotal)
	if err != nil {
		return Totals{}, LevelUpResult{}, err
	}

	return Totals{
		TotalXP:   newTotal,
		Level:     levelUp.NewLevel,
		CurrentXP: GetCurrentXP(newTotal, levelUp.NewLevel),
	}, levelUp, nil
}

// Validate checks the level invariant.
func (p *UserProgress) Validate() error {
	level, err := CalculateLevel(p.TotalXP)
	if err != nil {
		return err
	}
	if level != p.Level || GetCurrentXP(p.TotalXP, level) != p.CurrentXP {
		return shared.InvalidInput("progress", "Validate",
			"inconsistent progress for %s: level=%d currentXP=%d totalXP=%d", p.UserID, p.Level, p.CurrentXP, p.TotalXP)
	}
	if p.CurrentStreak < 0 || p.LongestStreak < 0 {
		return shared.InvalidInput("progress", "Validate", "negative streak for %s", p.UserID)
	}
	return nil
}

// Totals is the XP part of UserProgress written by a single commit.
type Totals struct {
	TotalXP   int
	Level     int
	CurrentXP int
}

// ══════════════════════════════════════════════════════════════════════════════
// XP TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// XPTransaction - неизменяемая запись журнала опыта.
type XPTransaction struct {
	ID          string
	UserID      string
	Amount      int
	Source      Source
	SourceID    string
	Description string
	CreatedAt   time.Time
}

// NewXPTransactionParams - параметры для создания транзакции.
type NewXPTransactionParams struct {
	ID          string
	UserID      string
	Amount      int
	Source      Source
	SourceID    string
	Description string
	CreatedAt   time.Time
}

// NewXPTransaction создаёт транзакцию с валидацией.
func NewXPTransaction(params NewXPTransactionParams) (*XPTransaction, error) {
	const op = "NewXPTransaction"

	if strings.TrimSpace(params.ID) == "" {
		return nil, shared.InvalidInput("progress", op, "transaction id is required")
	}
	if strings.TrimSpace(params.UserID) == "" {
		return nil, shared.InvalidInput("progress", op, "user id is required")
	}
	if params.Amount <= 0 {
		return nil, shared.InvalidInput("progress", op, "xp amount must be positive, got %d", params.Amount)
	}
	if !params.Source.IsValid() {
		return nil, shared.InvalidInput("progress", op, "unknown xp source %q", params.Source)
	}
	if strings.TrimSpace(params.SourceID) == "" {
		return nil, shared.InvalidInput("progress", op, "source id is required")
	}

	return &XPTransaction{
		ID:          params.ID,
		UserID:      params.UserID,
		Amount:      params.Amount,
		Source:      params.Source,
		SourceID:    params.SourceID,
		Description: params.Description,
		CreatedAt:   params.CreatedAt,
	}, nil
}

// Key returns the idempotency tuple of the transaction.
func (t *XPTransaction) Key() TransactionKey {
	return TransactionKey{UserID: t.UserID, Source: t.Source, SourceID: t.SourceID}
}

// TransactionKey identifies an XP gain; at most one transaction exists per key.
type TransactionKey struct {
	UserID   string
	Source   Source
	SourceID string
}
