package alarms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCondition(t *testing.T) {
	cond := Condition{Type: ConditionValue, Value: "UP"}
	require.NoError(t, cond.Validate())

	active, err := cond.Evaluate("UP", false)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = cond.Evaluate("DOWN", true)
	require.NoError(t, err)
	assert.False(t, active)

	numeric := Condition{Type: ConditionValue, Value: 3}
	active, err = numeric.Evaluate(3.0, false)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRangeCondition(t *testing.T) {
	inside := Condition{Type: ConditionRange, Min: 10, Max: 20}
	outside := Condition{Type: ConditionRange, Min: 10, Max: 20, Outside: true}

	for _, tc := range []struct {
		value   any
		inside  bool
		outside bool
	}{
		{value: 10.0, inside: true, outside: false},
		{value: 15, inside: true, outside: false},
		{value: "20", inside: true, outside: false},
		{value: 25.5, inside: false, outside: true},
	} {
		got, err := inside.Evaluate(tc.value, false)
		require.NoError(t, err)
		assert.Equal(t, tc.inside, got, "inside %v", tc.value)

		got, err = outside.Evaluate(tc.value, false)
		require.NoError(t, err)
		assert.Equal(t, tc.outside, got, "outside %v", tc.value)
	}

	_, err := inside.Evaluate("high", false)
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestThresholdConditionHysteresis(t *testing.T) {
	cond := Condition{Type: ConditionThreshold, Operator: OperatorGreater, Threshold: 100, Hysteresis: 5}
	require.NoError(t, cond.Validate())

	active, err := cond.Evaluate(101.0, false)
	require.NoError(t, err)
	assert.True(t, active)

	// Inside the hysteresis band the current state is kept.
	active, err = cond.Evaluate(97.0, true)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = cond.Evaluate(97.0, false)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = cond.Evaluate(95.0, true)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestConditionValidate(t *testing.T) {
	assert.ErrorIs(t, Condition{Type: "regex"}.Validate(), ErrInvalidCondition)
	assert.ErrorIs(t, Condition{Type: ConditionValue}.Validate(), ErrInvalidCondition)
	assert.ErrorIs(t, Condition{Type: ConditionRange, Min: 5, Max: 1}.Validate(), ErrInvalidCondition)
	assert.ErrorIs(t, Condition{Type: ConditionThreshold, Operator: "!="}.Validate(), ErrInvalidCondition)

	_, err := Condition{Type: ConditionValue, Value: true}.Evaluate(nil, false)
	assert.ErrorIs(t, err, ErrInvalidCondition)
}
