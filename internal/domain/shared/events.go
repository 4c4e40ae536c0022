package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	EventXPGained           EventType = "progress.xp_gained"
	EventLevelUp            EventType = "progress.level_up"
	EventDailyGoalCompleted EventType = "progress.daily_goal_completed"

	EventStreakUpdated   EventType = "streak.updated"
	EventStreakBroken    EventType = "streak.broken"
	EventStreakMilestone EventType = "streak.milestone"

	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time

	// AggregateID is the user the event belongs to.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

func (e BaseEvent) EventType() EventType   { return e.Type }
func (e BaseEvent) OccurredAt() time.Time  { return e.Timestamp }
func (e BaseEvent) AggregateID() string    { return e.AggregateId }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, userID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: userID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted once per newly recorded XP transaction.
type XPGainedEvent struct {
	BaseEvent
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
}

func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"source":    e.Source,
		"source_id": e.SourceID,
	}
}

func NewXPGainedEvent(userID string, amount, newTotal int, source, sourceID string) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, userID),
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
		SourceID:  sourceID,
	}
}

// LevelUpEvent is emitted when an XP commit moves the user to a higher level.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
	TotalXP  int `json:"total_xp"`
}

func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total_xp":  e.TotalXP,
	}
}

func NewLevelUpEvent(userID string, oldLevel, newLevel, totalXP int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// DailyGoalCompletedEvent is emitted when the daily goal XP is awarded.
type DailyGoalCompletedEvent struct {
	BaseEvent
	Date          string `json:"date"`
	CardsReviewed int    `json:"cards_reviewed"`
	XPAwarded     int    `json:"xp_awarded"`
}

func (e DailyGoalCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"date":           e.Date,
		"cards_reviewed": e.CardsReviewed,
		"xp_awarded":     e.XPAwarded,
	}
}

func NewDailyGoalCompletedEvent(userID, date string, cardsReviewed, xpAwarded int) DailyGoalCompletedEvent {
	return DailyGoalCompletedEvent{
		BaseEvent:     NewBaseEvent(EventDailyGoalCompleted, userID),
		Date:          date,
		CardsReviewed: cardsReviewed,
		XPAwarded:     xpAwarded,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted when a streak grows or a new one starts.
type StreakUpdatedEvent struct {
	BaseEvent
	Date    string `json:"date"`
	Current int    `json:"current"`
	Longest int    `json:"longest"`
}

func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"date":    e.Date,
		"current": e.Current,
		"longest": e.Longest,
	}
}

func NewStreakUpdatedEvent(userID, date string, current, longest int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, userID),
		Date:      date,
		Current:   current,
		Longest:   longest,
	}
}

// StreakBrokenEvent is emitted when a non-zero streak is reset.
type StreakBrokenEvent struct {
	BaseEvent
	Date           string `json:"date"`
	PreviousStreak int    `json:"previous_streak"`
}

func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"date":            e.Date,
		"previous_streak": e.PreviousStreak,
	}
}

func NewStreakBrokenEvent(userID, date string, previousStreak int) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userID),
		Date:           date,
		PreviousStreak: previousStreak,
	}
}

// StreakMilestoneEvent is emitted when a milestone bonus is granted.
type StreakMilestoneEvent struct {
	BaseEvent
	Streak int `json:"streak"`
	Bonus  int `json:"bonus"`
}

func (e StreakMilestoneEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"streak": e.Streak,
		"bonus":  e.Bonus,
	}
}

func NewStreakMilestoneEvent(userID string, streak, bonus int) StreakMilestoneEvent {
	return StreakMilestoneEvent{
		BaseEvent: NewBaseEvent(EventStreakMilestone, userID),
		Streak:    streak,
		Bonus:     bonus,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted exactly once per (user, achievement).
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	XPReward      int    `json:"xp_reward"`
}

func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"title":          e.Title,
		"description":    e.Description,
		"xp_reward":      e.XPReward,
	}
}

func NewAchievementUnlockedEvent(userID, achievementID, title, description string, xpReward int) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID),
		AchievementID: achievementID,
		Title:         title,
		Description:   description,
		XPReward:      xpReward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler handles one event. Async buses pass a fresh context that
// is not tied to the publisher's request.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
