package archive

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	alarms "plantwatch/internal/alarms/domain"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

// Sink persists finalized engine records.
type Sink interface {
	SupervisionChanged(ctx context.Context, record supervision.Record) error
	AlarmPublished(ctx context.Context, event string, alarm alarms.Alarm) error
	TagUpdated(ctx context.Context, tag tags.Tag) error
}

// Multi fans records out to every sink concurrently.
type Multi []Sink

// NewMulti drops nil sinks.
func NewMulti(sinks ...Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

// SupervisionChanged implements Sink.
func (m Multi) SupervisionChanged(ctx context.Context, record supervision.Record) error {
	return m.each(ctx, func(ctx context.Context, sink Sink) error {
		return sink.SupervisionChanged(ctx, record)
	})
}

// AlarmPublished implements Sink.
func (m Multi) AlarmPublished(ctx context.Context, event string, alarm alarms.Alarm) error {
	return m.each(ctx, func(ctx context.Context, sink Sink) error {
		return sink.AlarmPublished(ctx, event, alarm)
	})
}

// TagUpdated implements Sink.
func (m Multi) TagUpdated(ctx context.Context, tag tags.Tag) error {
	return m.each(ctx, func(ctx context.Context, sink Sink) error {
		return sink.TagUpdated(ctx, tag)
	})
}

func (m Multi) each(ctx context.Context, fn func(ctx context.Context, sink Sink) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sink := range m {
		g.Go(func() error {
			return fn(ctx, sink)
		})
	}
	return g.Wait()
}

// AlarmHistoryRow is one archived alarm publication.
type AlarmHistoryRow struct {
	AlarmID     string    `json:"alarm_id"`
	TagID       string    `json:"tag_id"`
	Event       string    `json:"event"`
	State       string    `json:"state"`
	Info        string    `json:"info"`
	Oscillating bool      `json:"oscillating"`
	AlarmTime   time.Time `json:"alarm_time"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// SupervisionHistoryRow is one archived supervision status change.
type SupervisionHistoryRow struct {
	Kind        string    `json:"kind"`
	EntityID    string    `json:"entity_id"`
	Status      string    `json:"status"`
	StatusTime  time.Time `json:"status_time"`
	Description string    `json:"description"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// HistoryQuery bounds a history read to [From, To). Empty ids match everything.
type HistoryQuery struct {
	Kind string
	ID   string
	From time.Time
	To   time.Time
}

// HistoryReader reads archived history.
type HistoryReader interface {
	AlarmHistory(ctx context.Context, q HistoryQuery) ([]AlarmHistoryRow, error)
	SupervisionHistory(ctx context.Context, q HistoryQuery) ([]SupervisionHistoryRow, error)
}
