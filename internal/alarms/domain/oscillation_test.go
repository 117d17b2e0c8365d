package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func TestOscillationKeepsBoundedHistory(t *testing.T) {
	policy := DefaultPolicy()
	var osc Oscillation
	for i := 0; i < 8; i++ {
		osc = osc.Record(base.Add(time.Duration(i)*time.Minute), policy)
	}
	require.Len(t, osc.Transitions, policy.Transitions)
	assert.Equal(t, base.Add(3*time.Minute), osc.Transitions[0])
	assert.Equal(t, base.Add(7*time.Minute), osc.LastTransition())
	assert.False(t, osc.Oscillating)
}

func TestOscillationDetectsBurst(t *testing.T) {
	policy := DefaultPolicy()
	var osc Oscillation
	for i := 0; i < policy.Transitions-1; i++ {
		osc = osc.Record(base.Add(time.Duration(i)*time.Second), policy)
		assert.False(t, osc.Oscillating)
	}
	osc = osc.Record(base.Add(4*time.Second), policy)
	assert.True(t, osc.Oscillating)
	assert.Equal(t, base.Add(4*time.Second), osc.FirstOscillation)

	// The flag sticks even once transitions slow down.
	osc = osc.Record(base.Add(10*time.Minute), policy)
	assert.True(t, osc.Oscillating)
	assert.Equal(t, base.Add(4*time.Second), osc.FirstOscillation)
}

func TestOscillationRecordDoesNotShareHistory(t *testing.T) {
	policy := DefaultPolicy()
	first := Oscillation{}.Record(base, policy)
	second := first.Record(base.Add(time.Second), policy)
	third := first.Record(base.Add(2*time.Second), policy)

	assert.Equal(t, []time.Time{base}, first.Transitions)
	assert.Equal(t, base.Add(time.Second), second.LastTransition())
	assert.Equal(t, base.Add(2*time.Second), third.LastTransition())
}

func TestOscillationSettled(t *testing.T) {
	policy := Policy{Transitions: 3, Window: 10 * time.Second}
	var osc Oscillation
	for i := 0; i < 3; i++ {
		osc = osc.Record(base.Add(time.Duration(i)*time.Second), policy)
	}
	require.True(t, osc.Oscillating)

	assert.False(t, osc.Settled(base.Add(5*time.Second), policy))
	assert.True(t, osc.Settled(base.Add(12*time.Second), policy))
	assert.False(t, osc.Reset().Settled(base.Add(time.Hour), policy))
}

func TestTransitionFreezesPublishedStateWhileOscillating(t *testing.T) {
	policy := Policy{Transitions: 3, Window: time.Minute}
	alarm := Alarm{
		ID:        "A1",
		TagID:     "T1",
		State:     StateTerminate,
		Condition: Condition{Type: ConditionValue, Value: true},
		Published: Published{State: StateTerminate},
	}

	alarm, changed := alarm.Transition(StateActive, "", base, base, policy)
	require.True(t, changed)
	assert.Equal(t, StateActive, alarm.Published.State)

	alarm, _ = alarm.Transition(StateTerminate, "", base.Add(time.Second), base, policy)
	alarm, _ = alarm.Transition(StateActive, "", base.Add(2*time.Second), base, policy)
	require.True(t, alarm.Oscillating())
	assert.Equal(t, StateTerminate, alarm.Published.State)

	alarm, _ = alarm.Transition(StateTerminate, "", base.Add(3*time.Second), base, policy)
	assert.Equal(t, StateTerminate, alarm.State)
	assert.Equal(t, StateTerminate, alarm.Published.State)
	assert.Len(t, alarm.Oscillation.Transitions, 3)

	_, changed = alarm.Transition(StateTerminate, "", base.Add(4*time.Second), base, policy)
	assert.False(t, changed)
}
