package progress

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище прогресса и журнала XP.
//
// Хранилище гарантирует атомарность только на уровне одной записи,
// поэтому начисление XP выполняется одной операцией CommitXP с проверкой версии.
type Repository interface {
	// GetUserProgress возвращает прогресс пользователя.
	// Возвращает ошибку вида shared.ErrNotFound, если записи нет.
	GetUserProgress(ctx context.Context, userID string) (*UserProgress, error)

	// CreateUserProgress создаёт пустой прогресс, если его ещё нет,
	// и в любом случае возвращает текущее состояние.
	CreateUserProgress(ctx context.Context, userID string) (*UserProgress, error)

	// UpdateUserProgress применяет частичное обновление полей, не связанных с XP.
	UpdateUserProgress(ctx context.Context, userID string, patch ProgressPatch) error

	// TransactionExists проверяет, записана ли транзакция с таким ключом.
	TransactionExists(ctx context.Context, key TransactionKey) (bool, error)

	// CreateXPTransaction добавляет транзакцию в журнал без изменения итогов.
	// Возвращает shared.ErrAlreadyExists при повторе ключа.
	CreateXPTransaction(ctx context.Context, txn *XPTransaction) error

	// CommitXP атомарно добавляет транзакцию и записывает новые итоги.
	// Возвращает shared.ErrAlreadyExists при повторе ключа и
	// shared.ErrConcurrentModification, если версия изменилась после чтения.
	CommitXP(ctx context.Context, commit XPCommit) (*UserProgress, error)

	// CountTransactions считает транзакции пользователя по источнику.
	CountTransactions(ctx context.Context, userID string, source Source) (int, error)

	// GetAllUserIDs возвращает идентификаторы всех пользователей с прогрессом.
	GetAllUserIDs(ctx context.Context) ([]string, error)
}

// ProgressPatch - частичное обновление. Nil-поля не меняются.
type ProgressPatch struct {
	CurrentStreak    *int
	LongestStreak    *int
	LastActivityDate *string

	// AddAchievement добавляет id в список достижений без дубликатов.
	AddAchievement *string
}

// IsEmpty reports whether the patch changes nothing.
func (p ProgressPatch) IsEmpty() bool {
	return p.CurrentStreak == nil && p.LongestStreak == nil &&
		p.LastActivityDate == nil && p.AddAchievement == nil
}

// XPCommit - транзакция плюс итоги, вычисленные из прочитанной версии.
type XPCommit struct {
	Transaction     *XPTransaction
	Totals          Totals
	ExpectedVersion int64

	// LastActivityDate, если не пусто, обновляется вместе с итогами.
	LastActivityDate string
}
