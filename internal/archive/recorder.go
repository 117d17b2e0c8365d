package archive

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

const (
	recordSupervision = "supervision"
	recordAlarm       = "alarm"
	recordTag         = "tag"

	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

type entry struct {
	kind   string
	event  string
	record supervision.Record
	alarm  alarms.Alarm
	tag    tags.Tag
}

// Recorder hands engine records to a sink off the engine goroutines. When the queue is
// full records are dropped and counted; the engine never waits on persistence.
type Recorder struct {
	sink         Sink
	queue        chan entry
	writeTimeout time.Duration
	logger       *zap.Logger
}

// RecorderOption configures a recorder.
type RecorderOption func(*Recorder)

// WithQueueSize sets the queue capacity.
func WithQueueSize(size int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.queue = make(chan entry, size)
		}
	}
}

// WithWriteTimeout bounds each sink call.
func WithWriteTimeout(timeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		if timeout > 0 {
			r.writeTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder constructs a recorder.
func NewRecorder(sink Sink, opts ...RecorderOption) (*Recorder, error) {
	if sink == nil {
		return nil, errors.New("archive: nil sink")
	}
	r := &Recorder{
		sink:         sink,
		queue:        make(chan entry, defaultQueueSize),
		writeTimeout: defaultWriteTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Notify implements the alarm notifier contract.
func (r *Recorder) Notify(_ context.Context, event alarmapp.AlarmEvent) {
	r.enqueue(entry{kind: recordAlarm, event: event.Type, alarm: event.Alarm})
}

// NotifyOnUpdate implements the aggregator listener contract.
func (r *Recorder) NotifyOnUpdate(_ context.Context, tag tags.Tag, _ []alarms.Alarm) {
	r.enqueue(entry{kind: recordTag, tag: tag})
}

// SupervisionListener returns a supervision cache listener.
func (r *Recorder) SupervisionListener() cache.Listener[string, supervision.Record] {
	return func(_ context.Context, evt cache.Event[string, supervision.Record]) error {
		r.enqueue(entry{kind: recordSupervision, record: evt.Value})
		return nil
	}
}

func (r *Recorder) enqueue(e entry) {
	select {
	case r.queue <- e:
	default:
		metrics.IncArchiveDropped(e.kind)
		r.logger.Warn("archive queue full, record dropped", zap.String("record", e.kind))
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e := <-r.queue:
			r.write(context.WithoutCancel(ctx), e)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.queue:
			r.write(context.Background(), e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e entry) {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	var err error
	switch e.kind {
	case recordSupervision:
		err = r.sink.SupervisionChanged(ctx, e.record)
	case recordAlarm:
		err = r.sink.AlarmPublished(ctx, e.event, e.alarm)
	case recordTag:
		err = r.sink.TagUpdated(ctx, e.tag)
	}
	if err != nil {
		r.logger.Warn("archive write failed", zap.String("record", e.kind), zap.Error(err))
	}
}
