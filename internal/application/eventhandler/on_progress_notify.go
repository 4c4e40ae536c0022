// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cardquest/progression/internal/domain/notification"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS NOTIFY HANDLER
// Превращает события прогресса в push-уведомления.
//
// Обрабатываемые события:
// 1. achievement.unlocked: всегда
// 2. streak.milestone: если включено в конфиге
// 3. progress.level_up: если включено в конфиге
//
// Обработчик подписывается на асинхронную шину, поэтому ошибки доставки
// не влияют на исходную операцию начисления XP.
// ═══════════════════════════════════════════════════════════════════════════

// OnProgressNotifyHandler отправляет push-уведомления о прогрессе.
type OnProgressNotifyHandler struct {
	tokens notification.TokenRepository
	sender notification.PushSender
	log    *logger.Logger
	config NotifyConfig
}

// NotifyConfig содержит конфигурацию обработчика.
type NotifyConfig struct {
	// NotifyMilestones - уведомлять о бонусах за серию.
	NotifyMilestones bool

	// NotifyLevelUp - уведомлять о новом уровне.
	NotifyLevelUp bool
}

// DefaultNotifyConfig возвращает конфигурацию по умолчанию.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		NotifyMilestones: true,
		NotifyLevelUp:    true,
	}
}

// NewOnProgressNotifyHandler создаёт обработчик.
func NewOnProgressNotifyHandler(
	tokens notification.TokenRepository,
	sender notification.PushSender,
	log *logger.Logger,
	config NotifyConfig,
) *OnProgressNotifyHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnProgressNotifyHandler{
		tokens: tokens,
		sender: sender,
		log:    log.With(logger.String("handler", "on_progress_notify")),
		config: config,
	}
}

// Register подписывает обработчик на нужные типы событий.
func (h *OnProgressNotifyHandler) Register(bus shared.EventSubscriber) error {
	types := []shared.EventType{shared.EventAchievementUnlocked}
	if h.config.NotifyMilestones {
		types = append(types, shared.EventStreakMilestone)
	}
	if h.config.NotifyLevelUp {
		types = append(types, shared.EventLevelUp)
	}
	for _, t := range types {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle реализует shared.EventHandler.
func (h *OnProgressNotifyHandler) Handle(ctx context.Context, event shared.Event) error {
	payload, ok := h.payloadFor(event)
	if !ok {
		return nil
	}
	return h.deliver(ctx, event.AggregateID(), payload)
}

func (h *OnProgressNotifyHandler) payloadFor(event shared.Event) (notification.Payload, bool) {
	switch e := event.(type) {
	case shared.AchievementUnlockedEvent:
		return notification.NewAchievementPayload(e), true
	case shared.StreakMilestoneEvent:
		return notification.NewStreakMilestonePayload(e), h.config.NotifyMilestones
	case shared.LevelUpEvent:
		return notification.NewLevelUpPayload(e), h.config.NotifyLevelUp
	default:
		h.log.Debug("ignoring event", logger.String("event_type", string(event.EventType())))
		return notification.Payload{}, false
	}
}

// deliver отправляет уведомление на все устройства пользователя.
// Ошибка одного токена не мешает остальным.
func (h *OnProgressNotifyHandler) deliver(ctx context.Context, userID string, payload notification.Payload) error {
	tokens, err := h.tokens.GetPushTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("load push tokens for %s: %w", userID, err)
	}
	if len(tokens) == 0 {
		h.log.Debug("no push tokens", logger.UserID(userID))
		return nil
	}

	var errs []error
	for _, t := range tokens {
		if err := h.sender.SendPushNotification(ctx, t.Token, payload); err != nil {
			h.log.Warn("push delivery failed",
				logger.UserID(userID),
				logger.String("platform", string(t.Platform)),
				logger.String("kind", string(payload.Kind)),
				logger.Err(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("push to %d of %d devices failed: %w", len(errs), len(tokens), errors.Join(errs...))
	}

	h.log.Info("push sent",
		logger.UserID(userID),
		logger.String("kind", string(payload.Kind)),
		logger.Int("devices", len(tokens)))
	return nil
}
