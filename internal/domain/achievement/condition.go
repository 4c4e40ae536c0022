package achievement

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/cardquest/progression/internal/domain/shared"
)

// ConditionType is the tag of an unlock condition.
type ConditionType string

const (
	CardsCreated        ConditionType = "cards_created"
	ReviewsCompleted    ConditionType = "reviews_completed"
	StreakLength        ConditionType = "streak_length"
	DecksCreated        ConditionType = "decks_created"
	DailyGoalsCompleted ConditionType = "daily_goals_completed"
	TotalXP             ConditionType = "total_xp"
	LevelReached        ConditionType = "level_reached"
	Custom              ConditionType = "custom"
)

// BuiltinTypes lists the closed set of non-custom condition types.
var BuiltinTypes = []ConditionType{
	CardsCreated, ReviewsCompleted, StreakLength, DecksCreated,
	DailyGoalsCompleted, TotalXP, LevelReached,
}

// IsBuiltin reports whether t is one of the closed built-in types.
func (t ConditionType) IsBuiltin() bool {
	for _, b := range BuiltinTypes {
		if b == t {
			return true
		}
	}
	return false
}

// IsValid reports whether t is built-in or custom.
func (t ConditionType) IsValid() bool { return t == Custom || t.IsBuiltin() }

// ParseConditionType validates a type name.
func ParseConditionType(s string) (ConditionType, error) {
	t := ConditionType(strings.TrimSpace(s))
	if !t.IsValid() {
		return "", shared.WrapError("achievement", "ParseConditionType", shared.ErrInvalidInput,
			fmt.Sprintf("unknown condition type %q", s), shared.ErrUnknownConditionType)
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONDITION VARIANT
// ══════════════════════════════════════════════════════════════════════════════

// Condition is either a ThresholdCondition or a CustomCondition.
// The unexported method keeps the set closed.
type Condition interface {
	Type() ConditionType
	Target() int
	condition()
}

// ThresholdCondition is satisfied when a built-in counter reaches Goal.
type ThresholdCondition struct {
	Kind ConditionType
	Goal int
}

func (c ThresholdCondition) Type() ConditionType { return c.Kind }
func (c ThresholdCondition) Target() int         { return c.Goal }
func (ThresholdCondition) condition()            {}

// CustomCondition is satisfied when a named metric over UserMetrics reaches Goal.
type CustomCondition struct {
	Metric string
	Goal   int
	Params Params
}

func (c CustomCondition) Type() ConditionType { return Custom }
func (c CustomCondition) Target() int         { return c.Goal }
func (CustomCondition) condition()            {}

// ConditionSpec is the wire/storage shape {type, target, params}.
type ConditionSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Target int            `json:"target" yaml:"target"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ParseCondition turns a spec into a typed condition.
// Built-in types take no params; custom requires params.metric.
func ParseCondition(spec ConditionSpec) (Condition, error) {
	const op = "ParseCondition"

	t, err := ParseConditionType(spec.Type)
	if err != nil {
		return nil, err
	}
	if spec.Target <= 0 {
		return nil, shared.InvalidInput("achievement", op, "target must be positive, got %d", spec.Target)
	}

	if t != Custom {
		if len(spec.Params) > 0 {
			return nil, shared.InvalidInput("achievement", op, "condition type %q takes no params", t)
		}
		return ThresholdCondition{Kind: t, Goal: spec.Target}, nil
	}

	params := Params(maps.Clone(spec.Params))
	metric, ok := params.String("metric")
	if !ok || metric == "" {
		return nil, shared.InvalidInput("achievement", op, "custom condition requires params.metric")
	}
	delete(params, "metric")

	return CustomCondition{Metric: metric, Goal: spec.Target, Params: params}, nil
}

// SpecOf converts a condition back to its storage shape.
func SpecOf(c Condition) ConditionSpec {
	switch cc := c.(type) {
	case CustomCondition:
		params := make(map[string]any, len(cc.Params)+1)
		maps.Copy(params, cc.Params)
		params["metric"] = cc.Metric
		return ConditionSpec{Type: string(Custom), Target: cc.Goal, Params: params}
	default:
		return ConditionSpec{Type: string(c.Type()), Target: c.Target()}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PARAMS
// ══════════════════════════════════════════════════════════════════════════════

// Params holds custom condition parameters as decoded from JSON or YAML.
type Params map[string]any

// String returns a string param.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

// Int returns an integer param. JSON numbers arrive as float64 and YAML
// numbers as int, both are accepted; fractional values are rejected.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}
