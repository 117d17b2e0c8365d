package alarms

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionType selects the activation predicate.
type ConditionType string

const (
	ConditionValue     ConditionType = "value"
	ConditionRange     ConditionType = "range"
	ConditionThreshold ConditionType = "threshold"
)

// Operator compares a value with a threshold.
type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
)

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Condition decides whether a tag value activates an alarm.
//
// A value condition is active when the tag value equals Value. A range condition is active
// when the value lies in [Min, Max], or outside of it when Outside is set. A threshold
// condition compares with Threshold and clears only once the value moved back by Hysteresis.
type Condition struct {
	Type       ConditionType `json:"type" yaml:"type" msgpack:"type"`
	Value      any           `json:"value,omitempty" yaml:"value" msgpack:"value"`
	Min        float64       `json:"min,omitempty" yaml:"min" msgpack:"min"`
	Max        float64       `json:"max,omitempty" yaml:"max" msgpack:"max"`
	Outside    bool          `json:"outside,omitempty" yaml:"outside" msgpack:"outside"`
	Operator   Operator      `json:"operator,omitempty" yaml:"operator" msgpack:"operator"`
	Threshold  float64       `json:"threshold,omitempty" yaml:"threshold" msgpack:"threshold"`
	Hysteresis float64       `json:"hysteresis,omitempty" yaml:"hysteresis" msgpack:"hysteresis"`
}

// Validate checks that the condition can be evaluated.
func (c Condition) Validate() error {
	switch c.Type {
	case ConditionValue:
		if c.Value == nil {
			return fmt.Errorf("%w: value condition without value", ErrInvalidCondition)
		}
	case ConditionRange:
		if c.Min > c.Max {
			return fmt.Errorf("%w: range min %v above max %v", ErrInvalidCondition, c.Min, c.Max)
		}
	case ConditionThreshold:
		if !c.Operator.Valid() {
			return fmt.Errorf("%w: operator %q", ErrInvalidCondition, string(c.Operator))
		}
		if c.Hysteresis < 0 {
			return fmt.Errorf("%w: negative hysteresis", ErrInvalidCondition)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidCondition, string(c.Type))
	}
	return nil
}

// Evaluate returns the activation result for value. active is the current alarm state,
// used by threshold hysteresis.
func (c Condition) Evaluate(value any, active bool) (bool, error) {
	if value == nil {
		return false, fmt.Errorf("%w: nil tag value", ErrInvalidCondition)
	}
	switch c.Type {
	case ConditionValue:
		return equalValues(c.Value, value), nil
	case ConditionRange:
		v, ok := toFloat(value)
		if !ok {
			return false, fmt.Errorf("%w: non-numeric value %v for range", ErrInvalidCondition, value)
		}
		inside := v >= c.Min && v <= c.Max
		return inside != c.Outside, nil
	case ConditionThreshold:
		v, ok := toFloat(value)
		if !ok {
			return false, fmt.Errorf("%w: non-numeric value %v for threshold", ErrInvalidCondition, value)
		}
		if active {
			return !c.shouldClear(v), nil
		}
		return c.shouldTrigger(v), nil
	default:
		return false, fmt.Errorf("%w: type %q", ErrInvalidCondition, string(c.Type))
	}
}

func (c Condition) shouldTrigger(value float64) bool {
	switch c.Operator {
	case OperatorGreater:
		return value > c.Threshold
	case OperatorGreaterOrEqual:
		return value >= c.Threshold
	case OperatorLess:
		return value < c.Threshold
	case OperatorLessOrEqual:
		return value <= c.Threshold
	default:
		return false
	}
}

func (c Condition) shouldClear(value float64) bool {
	h := c.Hysteresis
	if h < 0 {
		h = 0
	}
	switch c.Operator {
	case OperatorGreater, OperatorGreaterOrEqual:
		return value <= c.Threshold-h
	case OperatorLess, OperatorLessOrEqual:
		return value >= c.Threshold+h
	default:
		return true
	}
}

func equalValues(expected, actual any) bool {
	if a, ok := toFloat(expected); ok {
		if b, ok := toFloat(actual); ok {
			return a == b
		}
	}
	if a, ok := expected.(bool); ok {
		b, ok := actual.(bool)
		return ok && a == b
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
