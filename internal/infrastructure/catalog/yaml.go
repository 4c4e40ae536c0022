// Package catalog loads the achievement catalog from YAML files and
// imports it into an achievement repository.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cardquest/progression/internal/domain/achievement"
	"github.com/cardquest/progression/pkg/logger"
)

// File is the YAML document shape.
//
//	achievements:
//	  - id: streak-7
//	    name: Week warrior
//	    tier: silver
//	    xp_reward: 100
//	    condition:
//	      type: streak_length
//	      target: 7
type File struct {
	Achievements []Entry `yaml:"achievements"`
}

// Entry is one catalog item as authored.
type Entry struct {
	ID          string                    `yaml:"id"`
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Tier        string                    `yaml:"tier"`
	XPReward    int                       `yaml:"xp_reward"`
	Condition   achievement.ConditionSpec `yaml:"condition"`
}

// Parse decodes a catalog and validates every entry. All problems are
// reported together; nothing is returned unless the whole file is valid.
func Parse(r io.Reader, metrics *achievement.MetricRegistry) ([]*achievement.Achievement, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	var (
		out  []*achievement.Achievement
		errs []error
		seen = make(map[string]int, len(f.Achievements))
	)
	for i, e := range f.Achievements {
		a, err := e.toAchievement(metrics)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i+1, e.ID, err))
			continue
		}
		if prev, dup := seen[a.ID]; dup {
			errs = append(errs, fmt.Errorf("entry %d: duplicate id %q (first at entry %d)", i+1, a.ID, prev))
			continue
		}
		seen[a.ID] = i + 1
		out = append(out, a)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// LoadFile parses the catalog at path.
func LoadFile(path string, metrics *achievement.MetricRegistry) ([]*achievement.Achievement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	return Parse(f, metrics)
}

func (e Entry) toAchievement(metrics *achievement.MetricRegistry) (*achievement.Achievement, error) {
	cond, err := achievement.ParseCondition(e.Condition)
	if err != nil {
		return nil, err
	}
	if custom, ok := cond.(achievement.CustomCondition); ok && metrics != nil {
		if err := metrics.Validate(custom); err != nil {
			return nil, err
		}
	}

	a := &achievement.Achievement{
		ID:          strings.TrimSpace(e.ID),
		Name:        strings.TrimSpace(e.Name),
		Description: strings.TrimSpace(e.Description),
		Tier:        achievement.Tier(strings.ToLower(strings.TrimSpace(e.Tier))),
		XPReward:    e.XPReward,
		Condition:   cond,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT
// ══════════════════════════════════════════════════════════════════════════════

// Writer is the part of achievement.Repository an import needs.
type Writer interface {
	UpsertAchievement(ctx context.Context, a *achievement.Achievement) error
}

// ImportResult summarises an import run.
type ImportResult struct {
	Valid    int
	Imported int
	DryRun   bool
}

// Importer writes parsed catalogs to a repository.
type Importer struct {
	repo    Writer
	metrics *achievement.MetricRegistry
	log     *logger.Logger
}

// NewImporter creates an importer. A nil registry uses the default metrics.
func NewImporter(repo Writer, metrics *achievement.MetricRegistry, log *logger.Logger) *Importer {
	if metrics == nil {
		metrics = achievement.DefaultMetrics()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Importer{repo: repo, metrics: metrics, log: log.Named("catalog_import")}
}

// ImportFile parses path and upserts every entry. With dryRun the file is
// only validated. Upserts stop at the first store error; entries written
// before it stay written, and re-running the import is safe.
func (im *Importer) ImportFile(ctx context.Context, path string, dryRun bool) (ImportResult, error) {
	items, err := LoadFile(path, im.metrics)
	if err != nil {
		return ImportResult{}, err
	}
	return im.Import(ctx, items, dryRun)
}

// Import upserts already parsed entries.
func (im *Importer) Import(ctx context.Context, items []*achievement.Achievement, dryRun bool) (ImportResult, error) {
	res := ImportResult{Valid: len(items), DryRun: dryRun}
	if dryRun {
		im.log.Info("catalog validated", logger.Int("entries", len(items)))
		return res, nil
	}

	for _, a := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := im.repo.UpsertAchievement(ctx, a); err != nil {
			return res, fmt.Errorf("upsert %s: %w", a.ID, err)
		}
		res.Imported++
		im.log.Debug("achievement upserted", logger.AchievementID(a.ID))
	}

	im.log.Info("catalog imported", logger.Int("entries", res.Imported))
	return res, nil
}
