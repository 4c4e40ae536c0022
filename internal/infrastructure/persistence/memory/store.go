// Package memory provides an in-process implementation of every repository
// used by the progression engine. It backs the application tests and the
// worker's dry-run mode; a single mutex gives it the same per-call atomicity
// the Postgres store gets from transactions.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/internal/domain/activity"
	"github.com/cardquest/progression/internal/domain/notification"
	"github.com/cardquest/progression/internal/domain/progress"
	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/internal/domain/streak"
	"github.com/cardquest/progression/pkg/timeutil"
)

// Store keeps all state in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	clock timeutil.Clock

	progress     map[string]*progress.UserProgress
	transactions map[progress.TransactionKey]*progress.XPTransaction
	streaks      map[string]*streak.Data
	daily        map[dayKey]*activity.DailyProgress
	reviews      map[reviewKey]struct{}
	catalog      map[string]*achievement.Achievement
	unlocks      map[unlockKey]time.Time
	metrics      map[string]achievement.UserMetrics
	tokens       map[string][]notification.PushToken

	failures map[string]error
	calls    map[string]int
}

type dayKey struct{ userID, date string }

type unlockKey struct{ userID, achievementID string }

type reviewKey struct{ userID, reviewID string }

var (
	_ progress.Repository          = (*Store)(nil)
	_ streak.Repository            = (*Store)(nil)
	_ activity.Repository          = (*Store)(nil)
	_ achievement.Repository       = (*Store)(nil)
	_ achievement.MetricsReader    = (*Store)(nil)
	_ notification.TokenRepository = (*Store)(nil)
)

// New creates an empty store. A nil clock means the wall clock.
func New(clock timeutil.Clock) *Store {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Store{
		clock:        clock,
		progress:     make(map[string]*progress.UserProgress),
		transactions: make(map[progress.TransactionKey]*progress.XPTransaction),
		streaks:      make(map[string]*streak.Data),
		daily:        make(map[dayKey]*activity.DailyProgress),
		reviews:      make(map[reviewKey]struct{}),
		catalog:      make(map[string]*achievement.Achievement),
		unlocks:      make(map[unlockKey]time.Time),
		metrics:      make(map[string]achievement.UserMetrics),
		tokens:       make(map[string][]notification.PushToken),
		failures:     make(map[string]error),
		calls:        make(map[string]int),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Failure injection
// ─────────────────────────────────────────────────────────────────────────────

// FailOn makes every call of the named method return err until cleared
// with a nil err. Method names match the repository interfaces.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Calls returns how many times a method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// enter must be called with mu held.
func (s *Store) enter(method string) error {
	s.calls[method]++
	return s.failures[method]
}

func (s *Store) now() time.Time { return s.clock.Now().UTC() }

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetUserProgress(_ context.Context, userID string) (*progress.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetUserProgress"); err != nil {
		return nil, err
	}
	p, ok := s.progress[userID]
	if !ok {
		return nil, shared.ErrUserProgressNotFound
	}
	return copyProgress(p), nil
}

func (s *Store) CreateUserProgress(_ context.Context, userID string) (*progress.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateUserProgress"); err != nil {
		return nil, err
	}
	p, ok := s.progress[userID]
	if !ok {
		p = progress.NewUserProgress(userID, s.now())
		s.progress[userID] = p
	}
	return copyProgress(p), nil
}

func (s *Store) UpdateUserProgress(_ context.Context, userID string, patch progress.ProgressPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateUserProgress"); err != nil {
		return err
	}
	p, ok := s.progress[userID]
	if !ok {
		return shared.ErrUserProgressNotFound
	}
	if patch.IsEmpty() {
		return nil
	}
	if patch.CurrentStreak != nil {
		p.CurrentStreak = *patch.CurrentStreak
	}
	if patch.LongestStreak != nil {
		p.LongestStreak = *patch.LongestStreak
	}
	if patch.LastActivityDate != nil {
		p.LastActivityDate = *patch.LastActivityDate
	}
	if patch.AddAchievement != nil && !p.HasAchievement(*patch.AddAchievement) {
		p.Achievements = append(p.Achievements, *patch.AddAchievement)
	}
	p.UpdatedAt = s.now()
	return nil
}

func (s *Store) TransactionExists(_ context.Context, key progress.TransactionKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("TransactionExists"); err != nil {
		return false, err
	}
	_, ok := s.transactions[key]
	return ok, nil
}

func (s *Store) CreateXPTransaction(_ context.Context, txn *progress.XPTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateXPTransaction"); err != nil {
		return err
	}
	if _, ok := s.transactions[txn.Key()]; ok {
		return shared.ErrDuplicateTransaction
	}
	cp := *txn
	s.transactions[txn.Key()] = &cp
	return nil
}

func (s *Store) CommitXP(_ context.Context, commit progress.XPCommit) (*progress.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CommitXP"); err != nil {
		return nil, err
	}

	txn := commit.Transaction
	p, ok := s.progress[txn.UserID]
	if !ok {
		return nil, shared.ErrUserProgressNotFound
	}
	if _, dup := s.transactions[txn.Key()]; dup {
		return nil, shared.ErrDuplicateTransaction
	}
	if p.Version != commit.ExpectedVersion {
		return nil, shared.ErrStaleProgress
	}

	cp := *txn
	s.transactions[txn.Key()] = &cp

	p.TotalXP = commit.Totals.TotalXP
	p.Level = commit.Totals.Level
	p.CurrentXP = commit.Totals.CurrentXP
	if commit.LastActivityDate != "" {
		p.LastActivityDate = commit.LastActivityDate
	}
	p.Version++
	p.UpdatedAt = s.now()
	return copyProgress(p), nil
}

func (s *Store) CountTransactions(_ context.Context, userID string, source progress.Source) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CountTransactions"); err != nil {
		return 0, err
	}
	n := 0
	for key := range s.transactions {
		if key.UserID == userID && key.Source == source {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetAllUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetAllUserIDs"); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(s.progress)+len(s.streaks))
	for id := range s.progress {
		seen[id] = struct{}{}
	}
	for id := range s.streaks {
		seen[id] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Transactions returns a user's ledger ordered by creation time.
func (s *Store) Transactions(userID string) []progress.XPTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []progress.XPTransaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyProgress(p *progress.UserProgress) *progress.UserProgress {
	cp := *p
	cp.Achievements = slices.Clone(p.Achievements)
	return &cp
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetStreakData(_ context.Context, userID string) (*streak.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetStreakData"); err != nil {
		return nil, err
	}
	d, ok := s.streaks[userID]
	if !ok {
		return nil, shared.ErrStreakNotFound
	}
	return copyStreak(d), nil
}

func (s *Store) UpdateStreak(_ context.Context, userID string, patch streak.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateStreak"); err != nil {
		return err
	}

	d, ok := s.streaks[userID]
	if !ok {
		d = streak.NewData(userID)
	}
	if d.Version != patch.ExpectedVersion {
		return shared.ErrStaleStreak
	}
	if patch.AppendHistory != nil && d.HasEntry(patch.AppendHistory.Date) {
		return shared.ErrStreakDateRecorded
	}

	if patch.Current != nil {
		d.Current = *patch.Current
	}
	if patch.Longest != nil {
		d.Longest = *patch.Longest
	}
	if patch.LastUpdate != nil {
		d.LastUpdate = *patch.LastUpdate
	}
	if patch.AppendHistory != nil {
		d.History = append(d.History, *patch.AppendHistory)
		sort.SliceStable(d.History, func(i, j int) bool { return d.History[i].Date < d.History[j].Date })
	}
	d.Version++
	s.streaks[userID] = d
	return nil
}

// PutStreak replaces a user's streak record.
func (s *Store) PutStreak(d *streak.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaks[d.UserID] = copyStreak(d)
}

func copyStreak(d *streak.Data) *streak.Data {
	cp := *d
	cp.History = slices.Clone(d.History)
	if cp.History == nil {
		cp.History = []streak.HistoryEntry{}
	}
	return &cp
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetDailyProgress(_ context.Context, userID, date string) (*activity.DailyProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetDailyProgress"); err != nil {
		return nil, err
	}
	dp, ok := s.daily[dayKey{userID, date}]
	if !ok {
		return nil, shared.NewDomainError("activity", "GetDailyProgress", shared.ErrNotFound, "no daily progress for "+date)
	}
	cp := *dp
	return &cp, nil
}

func (s *Store) UpdateDailyProgress(_ context.Context, userID, date string, patch activity.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateDailyProgress"); err != nil {
		return err
	}
	dp, err := s.dayLocked(userID, date)
	if err != nil {
		return err
	}
	if patch.CardsReviewed != nil {
		dp.CardsReviewed = *patch.CardsReviewed
	}
	if patch.GoalMet != nil {
		dp.GoalMet = *patch.GoalMet
	}
	if patch.XPEarned != nil {
		dp.XPEarned = *patch.XPEarned
	}
	dp.UpdatedAt = s.now()
	return nil
}

func (s *Store) IncrementCardsReviewed(_ context.Context, userID, date, reviewID string, target int) (*activity.DailyProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("IncrementCardsReviewed"); err != nil {
		return nil, err
	}
	dp, err := s.dayLocked(userID, date)
	if err != nil {
		return nil, err
	}
	if reviewID != "" {
		key := reviewKey{userID, reviewID}
		if _, seen := s.reviews[key]; seen {
			cp := *dp
			return &cp, nil
		}
		s.reviews[key] = struct{}{}
	}
	dp.RecordReview(target, s.now())
	cp := *dp
	return &cp, nil
}

func (s *Store) MarkDailyXPAwarded(_ context.Context, userID, date string, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("MarkDailyXPAwarded"); err != nil {
		return false, err
	}
	dp, err := s.dayLocked(userID, date)
	if err != nil {
		return false, err
	}
	if dp.XPEarned != 0 {
		return false, nil
	}
	dp.XPEarned = amount
	dp.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) GoalMetDates(_ context.Context, userID string, dates []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GoalMetDates"); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(dates))
	for _, d := range dates {
		if dp, ok := s.daily[dayKey{userID, d}]; ok && dp.GoalMet {
			out[d] = true
		}
	}
	return out, nil
}

// PutDailyProgress replaces one day's record.
func (s *Store) PutDailyProgress(dp activity.DailyProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily[dayKey{dp.UserID, dp.Date}] = &dp
}

func (s *Store) dayLocked(userID, date string) (*activity.DailyProgress, error) {
	key := dayKey{userID, date}
	dp, ok := s.daily[key]
	if ok {
		return dp, nil
	}
	dp, err := activity.NewDailyProgress(userID, date)
	if err != nil {
		return nil, err
	}
	s.daily[key] = dp
	return dp, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetAllAchievements(_ context.Context) ([]*achievement.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetAllAchievements"); err != nil {
		return nil, err
	}
	out := make([]*achievement.Achievement, 0, len(s.catalog))
	for _, id := range slices.Sorted(maps.Keys(s.catalog)) {
		cp := *s.catalog[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetAchievement(_ context.Context, id string) (*achievement.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetAchievement"); err != nil {
		return nil, err
	}
	a, ok := s.catalog[id]
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetUserAchievements(_ context.Context, userID string) ([]achievement.UserAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetUserAchievements"); err != nil {
		return nil, err
	}
	var out []achievement.UserAchievement
	for key, at := range s.unlocks {
		if key.userID != userID {
			continue
		}
		out = append(out, achievement.UserAchievement{
			UserID:        userID,
			AchievementID: key.achievementID,
			UnlockedAt:    &at,
			Progress:      100,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

func (s *Store) UnlockAchievement(_ context.Context, userID, id string) (achievement.UnlockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UnlockAchievement"); err != nil {
		return achievement.UnlockResult{}, err
	}
	if _, ok := s.catalog[id]; !ok {
		return achievement.UnlockResult{}, shared.ErrAchievementNotFound
	}
	key := unlockKey{userID, id}
	if at, ok := s.unlocks[key]; ok {
		return achievement.UnlockResult{IsNewUnlock: false, UnlockedAt: at}, nil
	}
	at := s.now()
	s.unlocks[key] = at
	return achievement.UnlockResult{IsNewUnlock: true, UnlockedAt: at}, nil
}

func (s *Store) UpsertAchievement(_ context.Context, a *achievement.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertAchievement"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	cp := *a
	s.catalog[a.ID] = &cp
	return nil
}

func (s *Store) GetUserMetrics(_ context.Context, userID string) (achievement.UserMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetUserMetrics"); err != nil {
		return achievement.UserMetrics{}, err
	}
	m, ok := s.metrics[userID]
	if !ok {
		return achievement.UserMetrics{UserID: userID}, nil
	}
	return m, nil
}

// SetUserMetrics replaces a user's aggregates.
func (s *Store) SetUserMetrics(m achievement.UserMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.UserID] = m
}

// ══════════════════════════════════════════════════════════════════════════════
// PUSH TOKENS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetPushTokens(_ context.Context, userID string) ([]notification.PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetPushTokens"); err != nil {
		return nil, err
	}
	return slices.Clone(s.tokens[userID]), nil
}

// AddPushToken registers a device token for a user.
func (s *Store) AddPushToken(t notification.PushToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.UserID] = append(s.tokens[t.UserID], t)
}
