// Package notification содержит модель push-уведомлений о прогрессе.
// Доставка выполняется вне ядра: ядро только формирует Payload и передаёт
// его PushSender без ожидания результата.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/cardquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUSH TOKEN
// ══════════════════════════════════════════════════════════════════════════════

// Platform - платформа устройства.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// PushToken - токен устройства пользователя.
type PushToken struct {
	UserID    string
	Token     string
	Platform  Platform
	CreatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// Kind - тип уведомления, используется клиентом для маршрутизации.
type Kind string

const (
	KindAchievementUnlocked Kind = "achievement_unlocked"
	KindStreakMilestone     Kind = "streak_milestone"
	KindLevelUp             Kind = "level_up"
)

// Payload - содержимое push-уведомления.
type Payload struct {
	Kind  Kind              `json:"kind"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NewAchievementPayload builds the notification for an unlock.
func NewAchievementPayload(e shared.AchievementUnlockedEvent) Payload {
	return Payload{
		Kind:  KindAchievementUnlocked,
		Title: "Achievement unlocked: " + e.Title,
		Body:  fmt.Sprintf("%s (+%d XP)", e.Description, e.XPReward),
		Data: map[string]string{
			"achievement_id": e.AchievementID,
			"xp_reward":      fmt.Sprint(e.XPReward),
		},
	}
}

// NewStreakMilestonePayload builds the notification for a streak bonus.
func NewStreakMilestonePayload(e shared.StreakMilestoneEvent) Payload {
	return Payload{
		Kind:  KindStreakMilestone,
		Title: fmt.Sprintf("%d day streak!", e.Streak),
		Body:  fmt.Sprintf("You kept your daily goal for %d days in a row. +%d XP", e.Streak, e.Bonus),
		Data: map[string]string{
			"streak": fmt.Sprint(e.Streak),
			"bonus":  fmt.Sprint(e.Bonus),
		},
	}
}

// NewLevelUpPayload builds the notification for a level-up.
func NewLevelUpPayload(e shared.LevelUpEvent) Payload {
	return Payload{
		Kind:  KindLevelUp,
		Title: fmt.Sprintf("Level %d reached", e.NewLevel),
		Body:  fmt.Sprintf("You now have %d XP in total.", e.TotalXP),
		Data: map[string]string{
			"level": fmt.Sprint(e.NewLevel),
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// PushSender доставляет одно уведомление на один токен.
type PushSender interface {
	SendPushNotification(ctx context.Context, token string, payload Payload) error
}

// TokenRepository отдаёт токены устройств пользователя.
type TokenRepository interface {
	GetPushTokens(ctx context.Context, userID string) ([]PushToken, error)
}
