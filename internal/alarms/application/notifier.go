package application

import (
	"context"
	"strings"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	tags "plantwatch/internal/tags/domain"
)

// Alarm event types.
const (
	EventActive      = "active"
	EventTerminate   = "terminate"
	EventRepublished = "republished"
)

// AlarmNotifier publishes alarm state changes to external consumers.
type AlarmNotifier interface {
	Notify(ctx context.Context, event AlarmEvent)
}

// AlarmEvent represents a published alarm state.
type AlarmEvent struct {
	Type  string       `json:"type"`
	Alarm alarms.Alarm `json:"alarm"`
}

// eventFor builds the event of a published alarm.
func eventFor(alarm alarms.Alarm) AlarmEvent {
	return AlarmEvent{Type: strings.ToLower(string(alarm.Published.State)), Alarm: alarm}
}

// AggregatorListener receives every evaluated tag together with its visible alarms.
type AggregatorListener interface {
	NotifyOnUpdate(ctx context.Context, tag tags.Tag, list []alarms.Alarm)
}

// AggregatorListenerFunc adapts a function to AggregatorListener.
type AggregatorListenerFunc func(ctx context.Context, tag tags.Tag, list []alarms.Alarm)

// NotifyOnUpdate implements AggregatorListener.
func (f AggregatorListenerFunc) NotifyOnUpdate(ctx context.Context, tag tags.Tag, list []alarms.Alarm) {
	f(ctx, tag, list)
}

// TagAppender adds context invalidity reasons to a tag copy.
type TagAppender interface {
	Apply(tag tags.Tag) tags.Tag
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type noopAppender struct{}

func (noopAppender) Apply(tag tags.Tag) tags.Tag { return tag }
