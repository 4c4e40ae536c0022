package streak

import (
	"context"
	"time"
)

// Repository - хранилище серий.
type Repository interface {
	// GetStreakData возвращает серию пользователя.
	// Возвращает ошибку вида shared.ErrNotFound, если записи нет.
	GetStreakData(ctx context.Context, userID string) (*Data, error)

	// UpdateStreak применяет патч, создавая запись при необходимости, и
	// увеличивает Version. Если версия записи не равна ExpectedVersion,
	// возвращает shared.ErrConcurrentModification; если AppendHistory
	// содержит уже записанную дату - shared.ErrAlreadyExists. В обоих
	// случаях ничего не пишется.
	UpdateStreak(ctx context.Context, userID string, patch Patch) error
}

// Patch - частичное обновление серии. Nil-поля не меняются.
type Patch struct {
	ExpectedVersion int64

	Current       *int
	Longest       *int
	LastUpdate    *time.Time
	AppendHistory *HistoryEntry
}
