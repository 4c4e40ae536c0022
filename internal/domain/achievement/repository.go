package achievement

import "context"

// Repository - каталог достижений и состояние открытия по пользователям.
type Repository interface {
	// GetAllAchievements возвращает весь каталог.
	GetAllAchievements(ctx context.Context) ([]*Achievement, error)

	// GetAchievement возвращает достижение по id.
	// Возвращает ошибку вида shared.ErrNotFound, если его нет в каталоге.
	GetAchievement(ctx context.Context, id string) (*Achievement, error)

	// GetUserAchievements возвращает записи пользователя (открытые и нет).
	GetUserAchievements(ctx context.Context, userID string) ([]UserAchievement, error)

	// UnlockAchievement атомарно открывает достижение.
	// IsNewUnlock == true ровно у одного вызова на пару (userID, id).
	UnlockAchievement(ctx context.Context, userID, id string) (UnlockResult, error)

	// UpsertAchievement создаёт или заменяет запись каталога (импорт).
	UpsertAchievement(ctx context.Context, a *Achievement) error
}

// MetricsReader отдаёт агрегаты для пользовательских условий.
type MetricsReader interface {
	GetUserMetrics(ctx context.Context, userID string) (UserMetrics, error)
}
