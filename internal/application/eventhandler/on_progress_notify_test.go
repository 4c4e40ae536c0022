package eventhandler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/application/eventhandler"
	"github.com/cardquest/progression/internal/domain/notification"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/infrastructure/messaging"
	"github.com/cardquest/progression/internal/infrastructure/persistence/memory"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/timeutil"
)

// mockPushSender is a testify mock of notification.PushSender.
type mockPushSender struct {
	mock.Mock
}

func (m *mockPushSender) SendPushNotification(ctx context.Context, token string, p notification.Payload) error {
	args := m.Called(ctx, token, p)
	return args.Error(0)
}

func payloadOf(kind notification.Kind, check func(notification.Payload) bool) interface{} {
	return mock.MatchedBy(func(p notification.Payload) bool {
		return p.Kind == kind && (check == nil || check(p))
	})
}

func newStore(tokens ...notification.PushToken) *memory.Store {
	store := memory.New(timeutil.FixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
	for _, t := range tokens {
		store.AddPushToken(t)
	}
	return store
}

func TestOnProgressNotify_AchievementUnlocked(t *testing.T) {
	store := newStore(
		notification.PushToken{UserID: "u1", Token: "ios-1", Platform: notification.PlatformIOS},
		notification.PushToken{UserID: "u1", Token: "web-1", Platform: notification.PlatformWeb},
	)
	unlocked := payloadOf(notification.KindAchievementUnlocked, func(p notification.Payload) bool {
		return p.Data["achievement_id"] == "ten-cards" && p.Data["xp_reward"] == "100"
	})
	sender := &mockPushSender{}
	sender.On("SendPushNotification", mock.Anything, "ios-1", unlocked).Return(nil).Once()
	sender.On("SendPushNotification", mock.Anything, "web-1", unlocked).Return(nil).Once()
	h := eventhandler.NewOnProgressNotifyHandler(store, sender, logger.Nop(), eventhandler.DefaultNotifyConfig())

	err := h.Handle(context.Background(), shared.NewAchievementUnlockedEvent("u1", "ten-cards", "Card Collector", "Create 10 cards", 100))
	require.NoError(t, err)

	sender.AssertExpectations(t)
}

func TestOnProgressNotify_DisabledKindsAreIgnored(t *testing.T) {
	store := newStore(notification.PushToken{UserID: "u1", Token: "t1", Platform: notification.PlatformAndroid})
	sender := &mockPushSender{}
	h := eventhandler.NewOnProgressNotifyHandler(store, sender, logger.Nop(), eventhandler.NotifyConfig{})

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, shared.NewLevelUpEvent("u1", 1, 2, 450)))
	require.NoError(t, h.Handle(ctx, shared.NewStreakMilestoneEvent("u1", 7, 200)))
	require.NoError(t, h.Handle(ctx, shared.NewStreakBrokenEvent("u1", "2026-03-10", 3)))

	sender.AssertNotCalled(t, "SendPushNotification", mock.Anything, mock.Anything, mock.Anything)
}

func TestOnProgressNotify_OneBadTokenDoesNotBlockOthers(t *testing.T) {
	store := newStore(
		notification.PushToken{UserID: "u1", Token: "stale", Platform: notification.PlatformIOS},
		notification.PushToken{UserID: "u1", Token: "fresh", Platform: notification.PlatformIOS},
	)
	milestone := payloadOf(notification.KindStreakMilestone, nil)
	sender := &mockPushSender{}
	sender.On("SendPushNotification", mock.Anything, "stale", milestone).Return(errors.New("unregistered")).Once()
	sender.On("SendPushNotification", mock.Anything, "fresh", milestone).Return(nil).Once()
	h := eventhandler.NewOnProgressNotifyHandler(store, sender, logger.Nop(), eventhandler.DefaultNotifyConfig())

	err := h.Handle(context.Background(), shared.NewStreakMilestoneEvent("u1", 30, 300))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, err.Error(), "unregistered")

	sender.AssertExpectations(t)
}

func TestOnProgressNotify_NoTokens(t *testing.T) {
	sender := &mockPushSender{}
	h := eventhandler.NewOnProgressNotifyHandler(newStore(), sender, logger.Nop(), eventhandler.DefaultNotifyConfig())

	require.NoError(t, h.Handle(context.Background(), shared.NewLevelUpEvent("u1", 3, 4, 1600)))
	sender.AssertNotCalled(t, "SendPushNotification", mock.Anything, mock.Anything, mock.Anything)
}

func TestOnProgressNotify_RegisterOnBus(t *testing.T) {
	store := newStore(notification.PushToken{UserID: "u1", Token: "t1", Platform: notification.PlatformAndroid})
	levelUp := payloadOf(notification.KindLevelUp, func(p notification.Payload) bool { return p.Data["level"] == "2" })
	sender := &mockPushSender{}
	sender.On("SendPushNotification", mock.Anything, "t1", levelUp).Return(nil).Once()
	h := eventhandler.NewOnProgressNotifyHandler(store, sender, logger.Nop(), eventhandler.DefaultNotifyConfig())

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 1, Logger: logger.Nop()})
	require.NoError(t, h.Register(bus))

	require.NoError(t, bus.Publish(context.Background(), shared.NewLevelUpEvent("u1", 1, 2, 450)))
	require.NoError(t, bus.Publish(context.Background(), shared.NewXPGainedEvent("u1", 20, 450, "review", "c:1")))
	require.NoError(t, bus.Close())

	sender.AssertExpectations(t)
	sender.AssertNumberOfCalls(t, "SendPushNotification", 1)
}
