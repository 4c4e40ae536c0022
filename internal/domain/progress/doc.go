// Package progress содержит доменную модель прогресса пользователя:
// опыт (XP), уровни и журнал XP-транзакций.
//
// Пакет определяет:
//
//   - Чистые функции расчёта уровней: XPForLevel, CalculateLevel, GetCurrentXP,
//     CheckLevelUp, XPForNextLevel, XPToNextLevel
//   - Сущности: UserProgress, XPTransaction
//   - Перечисления: Source (источник XP), Difficulty (оценка повторения карточки)
//   - Интерфейс репозитория: Repository
//
// # Формула уровней
//
// Для достижения уровня L (L ≥ 1) нужно 100 × L² суммарного опыта:
//
//	уровень 1 →   100 XP
//	уровень 2 →   400 XP
//	уровень 3 →   900 XP
//
// Ниже 100 XP пользователь находится на уровне 0.
//
// # Идемпотентность
//
// Каждая транзакция однозначно определяется кортежем (userID, source, sourceID).
// Репозиторий обязан отклонять повторную запись того же кортежа, поэтому
// вызывающая сторона всегда строит sourceID детерминированно:
//
//	card-42:1718000000000     // повторение карточки
//	daily-goal-2024-06-10     // дневная цель
//	streak-7-2024-06-10       // бонус за серию
//
// Пакет не имеет внешних зависимостей.
package progress
