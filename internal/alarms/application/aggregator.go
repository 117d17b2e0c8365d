package application

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	tags "plantwatch/internal/tags/domain"
)

// Aggregator evaluates the alarms of a tag whenever the tag value or its supervision
// context changes, then notifies listeners and publishes visible alarm changes.
// It runs on the goroutine delivering the update.
type Aggregator struct {
	evaluator *Evaluator
	appender  TagAppender
	notifier  AlarmNotifier
	logger    *zap.Logger

	mu        sync.RWMutex
	listeners []AggregatorListener
}

// AggregatorOption customizes the aggregator.
type AggregatorOption func(*Aggregator)

// WithAppender assigns the supervision quality appender.
func WithAppender(appender TagAppender) AggregatorOption {
	return func(a *Aggregator) {
		if appender != nil {
			a.appender = appender
		}
	}
}

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) AggregatorOption {
	return func(a *Aggregator) {
		a.notifier = notifier
	}
}

// WithAggregatorLogger assigns a logger.
func WithAggregatorLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(evaluator *Evaluator, opts ...AggregatorOption) (*Aggregator, error) {
	if evaluator == nil {
		return nil, errors.New("alarms: nil evaluator")
	}
	a := &Aggregator{
		evaluator: evaluator,
		appender:  noopAppender{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RegisterListener adds an aggregator listener.
func (a *Aggregator) RegisterListener(listener AggregatorListener) {
	if listener == nil {
		return
	}
	a.mu.Lock()
	a.listeners = append(a.listeners, listener)
	a.mu.Unlock()
}

// TagListener adapts OnTagUpdate to a tag cache listener.
func (a *Aggregator) TagListener() cache.Listener[string, tags.Tag] {
	return func(ctx context.Context, evt cache.Event[string, tags.Tag]) error {
		return a.OnTagUpdate(ctx, evt.Value)
	}
}

// OnTagUpdate evaluates every alarm of tag. Listeners receive the tag with its supervision
// quality and all evaluated alarms that are not oscillating; changed alarms are published.
// Alarms failing evaluation are logged and left out.
func (a *Aggregator) OnTagUpdate(ctx context.Context, tag tags.Tag) error {
	if !tag.Initialised() {
		return nil
	}
	view := a.appender.Apply(tag)
	outcomes := a.evaluate(ctx, view, a.evaluator.Evaluate)

	visible := make([]alarms.Alarm, 0, len(outcomes))
	for _, outcome := range outcomes {
		if !outcome.Alarm.Oscillating() {
			visible = append(visible, outcome.Alarm)
		}
	}
	a.notifyListeners(ctx, view, visible)
	a.publish(ctx, outcomes)
	return nil
}

// OnSupervisionChange re-evaluates the alarms of tag after a status change of an owning entity.
// Only alarms whose state moved are passed on; unchanged alarms are not confirmed again.
// A terminated alarm is not activated here even when the tag recovers into its condition.
func (a *Aggregator) OnSupervisionChange(ctx context.Context, tag tags.Tag) error {
	if !tag.Initialised() {
		return nil
	}
	view := a.appender.Apply(tag)
	outcomes := a.evaluate(ctx, view, a.evaluator.Reevaluate)

	changed := make([]alarms.Alarm, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Publish() {
			changed = append(changed, outcome.Alarm)
		}
	}
	a.notifyListeners(ctx, view, changed)
	a.publish(ctx, outcomes)
	return nil
}

func (a *Aggregator) evaluate(ctx context.Context, tag tags.Tag, eval func(context.Context, tags.Tag, string) (Outcome, error)) []Outcome {
	outcomes := make([]Outcome, 0, len(tag.AlarmIDs))
	for _, id := range tag.AlarmIDs {
		outcome, err := eval(ctx, tag, id)
		if err != nil {
			metrics.IncAlarmEvaluationError()
			a.logger.Error("alarm evaluation failed",
				zap.String("alarm_id", id),
				zap.String("tag_id", tag.ID),
				zap.Error(err),
			)
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (a *Aggregator) notifyListeners(ctx context.Context, tag tags.Tag, list []alarms.Alarm) {
	a.mu.RLock()
	listeners := append([]AggregatorListener(nil), a.listeners...)
	a.mu.RUnlock()
	for _, listener := range listeners {
		listener.NotifyOnUpdate(ctx, tag, list)
	}
}

func (a *Aggregator) publish(ctx context.Context, outcomes []Outcome) {
	for _, outcome := range outcomes {
		if outcome.Suppressed {
			metrics.IncOscillationSuppressed()
			continue
		}
		if !outcome.Changed {
			continue
		}
		a.notify(ctx, eventFor(outcome.Alarm))
	}
}

func (a *Aggregator) notify(ctx context.Context, event AlarmEvent) {
	metrics.IncAlarmEvent(event.Type)
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(ctx, event)
}
