package alarms

import "time"

// Default oscillation thresholds.
const (
	DefaultOscillationTransitions = 5
	DefaultOscillationWindow      = 40 * time.Second
)

// Policy configures flap detection.
type Policy struct {
	Transitions int           `json:"transitions" yaml:"transitions"`
	Window      time.Duration `json:"window" yaml:"window"`
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{Transitions: DefaultOscillationTransitions, Window: DefaultOscillationWindow}
}

func (p Policy) normalized() Policy {
	if p.Transitions < 2 {
		p.Transitions = DefaultOscillationTransitions
	}
	if p.Window <= 0 {
		p.Window = DefaultOscillationWindow
	}
	return p
}

// Oscillation is the flap bookkeeping of an alarm. Transitions holds the most recent
// state-change times, oldest first, bounded by the policy transition count.
type Oscillation struct {
	Transitions      []time.Time `json:"transitions,omitempty" msgpack:"transitions"`
	FirstOscillation time.Time   `json:"first_oscillation,omitempty" msgpack:"first_oscillation"`
	Oscillating      bool        `json:"oscillating" msgpack:"oscillating"`
}

// Record returns a copy with a transition at the given time appended.
// Once oscillating, the flag stays set until Reset.
func (o Oscillation) Record(at time.Time, policy Policy) Oscillation {
	policy = policy.normalized()
	keep := min(len(o.Transitions), policy.Transitions-1)
	next := make([]time.Time, 0, policy.Transitions)
	next = append(next, o.Transitions[len(o.Transitions)-keep:]...)
	next = append(next, at)
	o.Transitions = next

	if !o.Oscillating && burst(next, policy) {
		o.Oscillating = true
		o.FirstOscillation = at
	}
	return o
}

// Settled reports whether an oscillating alarm had no transition for a full window.
func (o Oscillation) Settled(now time.Time, policy Policy) bool {
	if !o.Oscillating {
		return false
	}
	policy = policy.normalized()
	last := o.LastTransition()
	return last.IsZero() || now.Sub(last) >= policy.Window
}

// LastTransition returns the newest recorded transition time.
func (o Oscillation) LastTransition() time.Time {
	if len(o.Transitions) == 0 {
		return time.Time{}
	}
	return o.Transitions[len(o.Transitions)-1]
}

// Reset clears the history and the oscillating flag.
func (o Oscillation) Reset() Oscillation {
	return Oscillation{}
}

func burst(transitions []time.Time, policy Policy) bool {
	if len(transitions) < policy.Transitions {
		return false
	}
	return transitions[len(transitions)-1].Sub(transitions[0]) < policy.Window
}
