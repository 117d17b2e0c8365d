package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	tags "plantwatch/internal/tags/domain"
)

// Outcome is the result of evaluating one alarm.
type Outcome struct {
	Alarm alarms.Alarm
	// Changed is set when the evaluated state or info moved.
	Changed bool
	// Suppressed is set when a change is withheld from publication by the oscillation flag.
	Suppressed bool
}

// Publish reports whether the outcome must reach external consumers.
func (o Outcome) Publish() bool {
	return o.Changed && !o.Suppressed
}

// Evaluator evaluates alarm conditions against tag values and commits the result.
type Evaluator struct {
	alarms *cache.Cache[string, alarms.Alarm]
	policy alarms.Policy
	clock  Clock
	logger *zap.Logger
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithPolicy sets the oscillation policy.
func WithPolicy(policy alarms.Policy) EvaluatorOption {
	return func(e *Evaluator) {
		e.policy = policy
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator constructs an evaluator over the alarm cache.
func NewEvaluator(alarmCache *cache.Cache[string, alarms.Alarm], opts ...EvaluatorOption) (*Evaluator, error) {
	if alarmCache == nil {
		return nil, errors.New("alarms: nil alarm cache")
	}
	e := &Evaluator{
		alarms: alarmCache,
		policy: alarms.DefaultPolicy(),
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the oscillation policy.
func (e *Evaluator) Policy() alarms.Policy {
	return e.policy
}

// Get returns the alarm stored under id.
func (e *Evaluator) Get(id string) (alarms.Alarm, error) {
	alarm, err := e.alarms.Get(id)
	if err != nil {
		return alarms.Alarm{}, fmt.Errorf("%w: %s", alarms.ErrNotFound, id)
	}
	return alarm, nil
}

// List returns every alarm ordered by id.
func (e *Evaluator) List() []alarms.Alarm {
	keys := e.alarms.Keys()
	out := make([]alarms.Alarm, 0, len(keys))
	for _, key := range keys {
		if alarm, err := e.alarms.Get(key); err == nil {
			out = append(out, alarm)
		}
	}
	return out
}

// EvaluateAlarms evaluates every alarm of tag and returns the successfully evaluated ones.
// Failures are returned joined as *alarms.EvaluationError values.
func (e *Evaluator) EvaluateAlarms(ctx context.Context, tag tags.Tag) ([]alarms.Alarm, error) {
	out := make([]alarms.Alarm, 0, len(tag.AlarmIDs))
	var errs []error
	for _, id := range tag.AlarmIDs {
		outcome, err := e.Evaluate(ctx, tag, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, outcome.Alarm)
	}
	return out, errors.Join(errs...)
}

// Evaluate evaluates one alarm against tag under the alarm's key lock.
// A tag with invalid quality never moves an alarm from TERMINATE to ACTIVE.
func (e *Evaluator) Evaluate(ctx context.Context, tag tags.Tag, alarmID string) (Outcome, error) {
	return e.evaluate(ctx, tag, alarmID, true)
}

// Reevaluate evaluates one alarm after a supervision change of its tag. It may terminate an
// active alarm but never activates a terminated one; only a value update can do that.
func (e *Evaluator) Reevaluate(ctx context.Context, tag tags.Tag, alarmID string) (Outcome, error) {
	return e.evaluate(ctx, tag, alarmID, false)
}

func (e *Evaluator) evaluate(ctx context.Context, tag tags.Tag, alarmID string, mayActivate bool) (Outcome, error) {
	now := e.clock.Now().UTC()
	var outcome Outcome
	_, err := e.alarms.Compute(ctx, alarmID, func(current alarms.Alarm, found bool) (alarms.Alarm, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s", alarms.ErrNotFound, alarmID)
		}
		state, info, err := decide(current, tag, mayActivate)
		if err != nil {
			return current, false, err
		}
		wasOscillating := current.Oscillating()
		next, changed := current.Transition(state, info, now, tag.SourceTime, e.policy)
		outcome = Outcome{Alarm: next, Changed: changed, Suppressed: changed && next.Oscillating()}
		if next.Oscillating() && !wasOscillating {
			metrics.AddOscillating(1)
			e.logger.Warn("alarm oscillating",
				zap.String("alarm_id", alarmID),
				zap.String("tag_id", tag.ID),
				zap.Int("transitions", len(next.Oscillation.Transitions)),
			)
		}
		return next, changed, nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			metrics.IncLockTimeout("alarms")
			return Outcome{}, err
		}
		return Outcome{}, &alarms.EvaluationError{AlarmID: alarmID, Err: err}
	}
	return outcome, nil
}

// Settle clears the oscillation flag of an alarm that stopped flapping and publishes its
// current state evaluated against tag. The returned outcome is unchanged when the alarm is
// not oscillating or still flapping.
func (e *Evaluator) Settle(ctx context.Context, tag tags.Tag, alarmID string) (Outcome, error) {
	now := e.clock.Now().UTC()
	var outcome Outcome
	_, err := e.alarms.Compute(ctx, alarmID, func(current alarms.Alarm, found bool) (alarms.Alarm, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s", alarms.ErrNotFound, alarmID)
		}
		if !current.Oscillation.Settled(now, e.policy) {
			outcome = Outcome{Alarm: current}
			return current, false, nil
		}
		state, info, err := decide(current, tag, true)
		if err != nil {
			return current, false, err
		}
		next := current
		if state != current.State || info != current.Info {
			next.State = state
			next.Info = info
			next.Timestamp = now
			next.SourceTimestamp = tag.SourceTime
		}
		next.Oscillation = current.Oscillation.Reset()
		next = next.Publish(now)
		outcome = Outcome{Alarm: next, Changed: true}
		return next, true, nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			metrics.IncLockTimeout("alarms")
			return Outcome{}, err
		}
		return Outcome{}, &alarms.EvaluationError{AlarmID: alarmID, Err: err}
	}
	if outcome.Changed {
		metrics.AddOscillating(-1)
	}
	return outcome, nil
}

// decide computes the state an alarm must take for tag. Without mayActivate a terminated
// alarm stays terminated.
func decide(alarm alarms.Alarm, tag tags.Tag, mayActivate bool) (alarms.State, string, error) {
	if alarm.TagID != tag.ID {
		return "", "", fmt.Errorf("alarm attached to tag %s evaluated with tag %s", alarm.TagID, tag.ID)
	}
	active, err := alarm.Condition.Evaluate(tag.Value, alarm.Active())
	if err != nil {
		return "", "", err
	}
	if active && !alarm.Active() && (!mayActivate || !tag.Valid()) {
		return alarm.State, alarm.Info, nil
	}
	if !active {
		return alarms.StateTerminate, "", nil
	}
	return alarms.StateActive, tag.ValueDescription, nil
}
