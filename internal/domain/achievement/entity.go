// Package achievement содержит каталог достижений и правила их открытия.
//
// Условие открытия - закрытый вариант Condition: пороговое условие по
// встроенному счётчику (ThresholdCondition) или пользовательская метрика
// (CustomCondition). Вычисление текущего значения условия делегируется
// обработчикам, зарегистрированным в HandlerRegistry по типу условия,
// поэтому новый тип добавляется регистрацией, а не правкой switch.
package achievement

import (
	"strings"
	"time"

	"github.com/cardquest/progression/internal/domain/shared"
)

// Tier - редкость достижения.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// IsValid checks the tier value.
func (t Tier) IsValid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierPlatinum:
		return true
	}
	return false
}

// Achievement is a catalog entry. The catalog is authored outside the engine
// and read-only here, except for import.
type Achievement struct {
	ID          string
	Name        string
	Description string
	Tier        Tier
	XPReward    int
	Condition   Condition
}

// Validate checks a catalog entry.
func (a *Achievement) Validate() error {
	const op = "Validate"

	if strings.TrimSpace(a.ID) == "" {
		return shared.InvalidInput("achievement", op, "achievement id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return shared.InvalidInput("achievement", op, "achievement %s: name is required", a.ID)
	}
	if !a.Tier.IsValid() {
		return shared.InvalidInput("achievement", op, "achievement %s: unknown tier %q", a.ID, a.Tier)
	}
	if a.XPReward <= 0 {
		return shared.InvalidInput("achievement", op, "achievement %s: xp reward must be positive", a.ID)
	}
	if a.Condition == nil {
		return shared.InvalidInput("achievement", op, "achievement %s: condition is required", a.ID)
	}
	return nil
}

// UserAchievement tracks one (user, achievement) pair.
// UnlockedAt goes from nil to a timestamp exactly once.
type UserAchievement struct {
	UserID        string
	AchievementID string
	UnlockedAt    *time.Time
	Progress      int // 0-100
}

// IsUnlocked reports whether the achievement is unlocked.
func (ua UserAchievement) IsUnlocked() bool { return ua.UnlockedAt != nil }

// UnlockResult is returned by the atomic unlock primitive.
type UnlockResult struct {
	IsNewUnlock bool
	UnlockedAt  time.Time
}

// Percent converts a counter into 0-100 progress towards target.
func Percent(current, target int) int {
	if target <= 0 || current >= target {
		return 100
	}
	if current <= 0 {
		return 0
	}
	return current * 100 / target
}
