package progress

import (
	"math"

	"github.com/cardquest/progression/internal/domain/shared"
)

// XPPerLevelUnit is the multiplier in the level curve 100 × L².
const XPPerLevelUnit = 100

// maxLevel keeps 100 × L² well inside int64.
const maxLevel = 1 << 28

// MaxTotalXP is the largest total the curve can represent: one XP short of
// level maxLevel+1, so every threshold CalculateLevel touches stays in range.
const MaxTotalXP = XPPerLevelUnit*(maxLevel+1)*(maxLevel+1) - 1

// LevelUpResult describes the level transition caused by an XP change.
type LevelUpResult struct {
	LeveledUp    bool
	OldLevel     int
	NewLevel     int
	LevelsGained int
}

// threshold is 100 × L² without validation; threshold(0) == 0.
func threshold(level int) int {
	return XPPerLevelUnit * level * level
}

// XPForLevel returns the total XP required to reach level.
func XPForLevel(level int) (int, error) {
	if level < 1 || level > maxLevel {
		return 0, shared.InvalidInput("progress", "XPForLevel", "level must be between 1 and %d, got %d", maxLevel, level)
	}
	return threshold(level), nil
}

// CalculateLevel returns the largest L with XPForLevel(L) <= totalXP, or 0.
func CalculateLevel(totalXP int) (int, error) {
	if totalXP < 0 {
		return 0, shared.InvalidInput("progress", "CalculateLevel", "total xp must be non-negative, got %d", totalXP)
	}
	if totalXP > MaxTotalXP {
		return 0, shared.InvalidInput("progress", "CalculateLevel", "total xp %d exceeds maximum %d", totalXP, MaxTotalXP)
	}

	level := int(math.Sqrt(float64(totalXP) / XPPerLevelUnit))
	// float rounding can be off by one near perfect squares
	for level > 0 && threshold(level) > totalXP {
		level--
	}
	for threshold(level+1) <= totalXP {
		level++
	}
	return level, nil
}

// GetCurrentXP returns the XP earned inside the current level.
func GetCurrentXP(totalXP, level int) int {
	if level <= 0 {
		return max(totalXP, 0)
	}
	return max(totalXP-threshold(level), 0)
}

// XPForNextLevel returns the total XP required to reach currentLevel+1.
func XPForNextLevel(currentLevel int) int {
	return threshold(max(currentLevel, 0) + 1)
}

// XPToNextLevel returns how much XP is still missing for the next level.
func XPToNextLevel(totalXP, currentLevel int) int {
	return max(XPForNextLevel(currentLevel)-totalXP, 0)
}

// CheckLevelUp compares the levels at two XP totals.
// XP never decreases, so newTotalXP < oldTotalXP is rejected.
func CheckLevelUp(oldTotalXP, newTotalXP int) (LevelUpResult, error) {
	if newTotalXP < oldTotalXP {
		return LevelUpResult{}, shared.InvalidInput("progress", "CheckLevelUp",
			"new total xp %d is lower than old total xp %d", newTotalXP, oldTotalXP)
	}

	oldLevel, err := CalculateLevel(oldTotalXP)
	if err != nil {
		return LevelUpResult{}, err
	}
	newLevel, err := CalculateLevel(newTotalXP)
	if err != nil {
		return LevelUpResult{}, err
	}

	return LevelUpResult{
		LeveledUp:    newLevel > oldLevel,
		OldLevel:     oldLevel,
		NewLevel:     newLevel,
		LevelsGained: newLevel - oldLevel,
	}, nil
}
