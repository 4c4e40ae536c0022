package redis

import (
	"context"
	"errors"
	"time"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/pkg/logger"
)

// JSONCache is the part of Cache the catalog cache needs.
type JSONCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ JSONCache = (*Cache)(nil)

// catalogEntry is the cached shape of an achievement.
type catalogEntry struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Tier        string                    `json:"tier"`
	XPReward    int                       `json:"xp_reward"`
	Condition   achievement.ConditionSpec `json:"condition"`
}

func toEntry(a *achievement.Achievement) catalogEntry {
	return catalogEntry{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Tier:        string(a.Tier),
		XPReward:    a.XPReward,
		Condition:   achievement.SpecOf(a.Condition),
	}
}

func (e catalogEntry) toAchievement() (*achievement.Achievement, error) {
	cond, err := achievement.ParseCondition(e.Condition)
	if err != nil {
		return nil, err
	}
	return &achievement.Achievement{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Tier:        achievement.Tier(e.Tier),
		XPReward:    e.XPReward,
		Condition:   cond,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG CACHE
// ══════════════════════════════════════════════════════════════════════════════

// CatalogCache is a read-through cache in front of an achievement
// repository. Only catalog reads are cached; unlock state always goes to
// the underlying repository. Cache failures degrade to direct reads.
type CatalogCache struct {
	achievement.Repository

	cache JSONCache
	ttl   time.Duration
	log   *logger.Logger
}

var _ achievement.Repository = (*CatalogCache)(nil)

// NewCatalogCache wraps next. A non-positive ttl falls back to TTLCatalog.
func NewCatalogCache(next achievement.Repository, cache JSONCache, ttl time.Duration, log *logger.Logger) *CatalogCache {
	if ttl <= 0 {
		ttl = TTLCatalog
	}
	if log == nil {
		log = logger.Default()
	}
	return &CatalogCache{
		Repository: next,
		cache:      cache,
		ttl:        ttl,
		log:        log.Named("catalog_cache"),
	}
}

// GetAllAchievements returns the cached catalog, loading it on a miss.
func (c *CatalogCache) GetAllAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	var entries []catalogEntry
	err := c.cache.Get(ctx, CatalogKey(), &entries)
	if err == nil {
		if out, ok := c.decode(ctx, CatalogKey(), entries...); ok {
			return out, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("catalog cache read failed", logger.Err(err))
	}

	all, err := c.Repository.GetAllAchievements(ctx)
	if err != nil {
		return nil, err
	}

	entries = make([]catalogEntry, 0, len(all))
	for _, a := range all {
		entries = append(entries, toEntry(a))
	}
	if err := c.cache.Set(ctx, CatalogKey(), entries, c.ttl); err != nil {
		c.log.Warn("catalog cache write failed", logger.Err(err))
	}
	return all, nil
}

// GetAchievement returns one cached entry, loading it on a miss.
func (c *CatalogCache) GetAchievement(ctx context.Context, id string) (*achievement.Achievement, error) {
	key := AchievementKey(id)

	var entry catalogEntry
	err := c.cache.Get(ctx, key, &entry)
	if err == nil {
		if out, ok := c.decode(ctx, key, entry); ok {
			return out[0], nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("catalog cache read failed", logger.AchievementID(id), logger.Err(err))
	}

	a, err := c.Repository.GetAchievement(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, toEntry(a), c.ttl); err != nil {
		c.log.Warn("catalog cache write failed", logger.AchievementID(id), logger.Err(err))
	}
	return a, nil
}

// UpsertAchievement writes through and drops the affected keys.
func (c *CatalogCache) UpsertAchievement(ctx context.Context, a *achievement.Achievement) error {
	if err := c.Repository.UpsertAchievement(ctx, a); err != nil {
		return err
	}
	c.Invalidate(ctx, a.ID)
	return nil
}

// Invalidate drops the catalog and the given entries from the cache.
func (c *CatalogCache) Invalidate(ctx context.Context, ids ...string) {
	keys := []string{CatalogKey()}
	for _, id := range ids {
		keys = append(keys, AchievementKey(id))
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		c.log.Warn("catalog cache invalidation failed", logger.Err(err))
	}
}

// decode parses cached entries. An entry that no longer parses poisons
// the key, which is dropped so the next read reloads it.
func (c *CatalogCache) decode(ctx context.Context, key string, entries ...catalogEntry) ([]*achievement.Achievement, bool) {
	out := make([]*achievement.Achievement, 0, len(entries))
	for _, e := range entries {
		a, err := e.toAchievement()
		if err != nil {
			c.log.Warn("dropping unreadable cache entry",
				logger.String("key", key), logger.AchievementID(e.ID), logger.Err(err))
			_ = c.cache.Delete(ctx, key)
			return nil, false
		}
		out = append(out, a)
	}
	return out, true
}
