package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags holds on/off toggles for optional behaviour.
// Each flag can be overridden with FEATURE_<NAME>=true|false.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	FeatureNotifyAchievements   = "notify.achievements"
	FeatureNotifyMilestones     = "notify.milestones"
	FeatureNotifyLevelUp        = "notify.level_up"
	FeatureEvaluateAchievements = "jobs.evaluate_achievements"
	FeatureCatalogCache         = "catalog.cache"
	FeatureEventForwarding      = "events.forwarding"
)

// LoadFeatureFlags creates flags with defaults and applies env overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	for _, f := range []Feature{
		{Name: FeatureNotifyAchievements, Description: "Push a notification when an achievement unlocks", Enabled: true},
		{Name: FeatureNotifyMilestones, Description: "Push a notification on streak milestones", Enabled: true},
		{Name: FeatureNotifyLevelUp, Description: "Push a notification on level up", Enabled: false},
		{Name: FeatureEvaluateAchievements, Description: "Hourly achievement sweep over all users", Enabled: true},
		{Name: FeatureCatalogCache, Description: "Serve the achievement catalog through Redis", Enabled: true},
		{Name: FeatureEventForwarding, Description: "Mirror progression events to Redis pub/sub", Enabled: true},
	} {
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment applies FEATURE_<NAME> overrides.
// Example: FEATURE_NOTIFY_LEVEL_UP=true
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "notify.level_up" -> "FEATURE_NOTIFY_LEVEL_UP"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on. Unknown features are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[name]
	return ok && f.Enabled
}

// Set turns a known feature on or off.
func (ff *FeatureFlags) Set(name string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return &FeatureFlagError{Feature: name, Message: "unknown feature"}
	}
	f.Enabled = enabled
	return nil
}

// GetAllFeatures returns a copy of all flags sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return fmt.Sprintf("feature flag %s: %s", e.Feature, e.Message)
}
