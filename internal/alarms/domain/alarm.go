package alarms

import (
	"errors"
	"fmt"
	"time"
)

// State is the activation state of an alarm.
type State string

const (
	StateActive    State = "ACTIVE"
	StateTerminate State = "TERMINATE"
)

// Valid returns true for known states.
func (s State) Valid() bool {
	return s == StateActive || s == StateTerminate
}

// StateOf maps an evaluation result to a state.
func StateOf(active bool) State {
	if active {
		return StateActive
	}
	return StateTerminate
}

// Published is the externally visible state of an alarm.
type Published struct {
	State     State     `json:"state" msgpack:"state"`
	Info      string    `json:"info,omitempty" msgpack:"info"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Alarm is an alarm attached to one tag.
type Alarm struct {
	ID              string      `json:"id" msgpack:"id"`
	TagID           string      `json:"tag_id" msgpack:"tag_id"`
	FaultFamily     string      `json:"fault_family" msgpack:"fault_family"`
	FaultMember     string      `json:"fault_member" msgpack:"fault_member"`
	FaultCode       int         `json:"fault_code" msgpack:"fault_code"`
	Severity        string      `json:"severity,omitempty" msgpack:"severity"`
	Condition       Condition   `json:"condition" msgpack:"condition"`
	State           State       `json:"state" msgpack:"state"`
	Info            string      `json:"info,omitempty" msgpack:"info"`
	Timestamp       time.Time   `json:"timestamp" msgpack:"timestamp"`
	SourceTimestamp time.Time   `json:"source_timestamp" msgpack:"source_timestamp"`
	Published       Published   `json:"published" msgpack:"published"`
	Oscillation     Oscillation `json:"oscillation" msgpack:"oscillation"`
}

// Active reports whether the evaluated state is active.
func (a Alarm) Active() bool {
	return a.State == StateActive
}

// Oscillating reports whether publication is currently suppressed.
func (a Alarm) Oscillating() bool {
	return a.Oscillation.Oscillating
}

// PublicationPending reports whether the visible state lags behind the evaluated state.
func (a Alarm) PublicationPending() bool {
	return a.Published.State != a.State || a.Published.Info != a.Info
}

// Transition returns a copy carrying the evaluated state and whether anything changed.
// State flips feed the oscillation history; the published state only follows while the
// alarm is not oscillating.
func (a Alarm) Transition(state State, info string, at, sourceTime time.Time, policy Policy) (Alarm, bool) {
	if state == a.State && info == a.Info {
		return a, false
	}
	if state != a.State {
		a.Oscillation = a.Oscillation.Record(at, policy)
	}
	a.State = state
	a.Info = info
	a.Timestamp = at
	a.SourceTimestamp = sourceTime
	if !a.Oscillation.Oscillating {
		a.Published = Published{State: state, Info: info, Timestamp: at}
	}
	return a, true
}

// Publish makes the evaluated state visible.
func (a Alarm) Publish(at time.Time) Alarm {
	a.Published = Published{State: a.State, Info: a.Info, Timestamp: at}
	return a
}

// Validate checks alarm invariants.
func (a Alarm) Validate() error {
	if a.ID == "" {
		return errors.New("alarm: empty id")
	}
	if a.TagID == "" {
		return fmt.Errorf("alarm %s: empty tag id", a.ID)
	}
	if !a.State.Valid() {
		return fmt.Errorf("alarm %s: invalid state %q", a.ID, string(a.State))
	}
	if err := a.Condition.Validate(); err != nil {
		return fmt.Errorf("alarm %s: %w", a.ID, err)
	}
	return nil
}
