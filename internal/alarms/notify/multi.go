package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
)

// MultiNotifier forwards alarm events to several notifiers in order. Notifiers run inside
// the cache commit path, so a panicking notifier is logged and skipped.
type MultiNotifier struct {
	notifiers []alarmapp.AlarmNotifier
	logger    *zap.Logger
}

// NewMultiNotifier constructs a MultiNotifier. Nil notifiers are dropped.
func NewMultiNotifier(logger *zap.Logger, notifiers ...alarmapp.AlarmNotifier) *MultiNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MultiNotifier{logger: logger}
	for _, notifier := range notifiers {
		if notifier != nil {
			m.notifiers = append(m.notifiers, notifier)
		}
	}
	return m
}

// Len returns the number of notifiers.
func (m *MultiNotifier) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}

// Notify implements AlarmNotifier.
func (m *MultiNotifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		m.notifyOne(ctx, notifier, event)
	}
}

func (m *MultiNotifier) notifyOne(ctx context.Context, notifier alarmapp.AlarmNotifier, event alarmapp.AlarmEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alarm notifier panicked",
				zap.String("notifier", fmt.Sprintf("%T", notifier)),
				zap.String("alarm_id", event.Alarm.ID),
				zap.Any("panic", r),
			)
		}
	}()
	notifier.Notify(ctx, event)
}
