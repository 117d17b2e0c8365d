// Package notify delivers published alarm events to people: a rendered message on a
// channel, and reminders for severe alarms that stay active.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	tags "plantwatch/internal/tags/domain"
)

// AlarmReader loads the current alarm state.
type AlarmReader interface {
	Get(id string) (alarms.Alarm, error)
}

// TagReader loads tag metadata.
type TagReader interface {
	Get(id string) (tags.Tag, error)
}

// Clock provides time for throttling.
type Clock interface {
	Now() time.Time
}

// ConsoleURLResolver provides an operator console link for an alarm when available.
type ConsoleURLResolver func(ctx context.Context, alarm alarms.Alarm, tag *tags.Tag) string

// Notifier renders alarm events and sends them on a channel.
type Notifier struct {
	alarms   AlarmReader
	tags     TagReader
	channel  Channel
	template *Template

	clock       Clock
	logger      *zap.Logger
	consoleURL  ConsoleURLResolver
	sendTimeout time.Duration

	escalateAfter time.Duration
	minSeverity   string
	cooldown      time.Duration
	dedupeWindow  time.Duration

	throttle    *throttle
	escalations *escalations
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation resends an active alarm once it has stayed active for after.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalateAfter = after
		}
	}
}

// WithEscalationSeverity sets the lowest severity that escalates. Default "high".
func WithEscalationSeverity(severity string) Option {
	return func(n *Notifier) {
		if _, ok := severityRanks[normalizeSeverity(severity)]; ok {
			n.minSeverity = normalizeSeverity(severity)
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithSendTimeout bounds escalation sends, which run outside any request.
func WithSendTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.sendTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithConsoleURLResolver injects a console link resolver.
func WithConsoleURLResolver(resolver ConsoleURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.consoleURL = resolver
		}
	}
}

// NewNotifier constructs an alarm notifier. A nil template selects DefaultTemplate.
func NewNotifier(alarmReader AlarmReader, tagReader TagReader, channel Channel, tpl *Template, opts ...Option) (*Notifier, error) {
	if alarmReader == nil {
		return nil, errors.New("alarm notifier: nil alarm reader")
	}
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if tpl == nil {
		var err error
		if tpl, err = NewTemplate(""); err != nil {
			return nil, err
		}
	}
	n := &Notifier{
		alarms:      alarmReader,
		tags:        tagReader,
		channel:     channel,
		template:    tpl,
		clock:       systemClock{},
		logger:      zap.NewNop(),
		sendTimeout: 5 * time.Second,
		minSeverity: "high",
		escalations: newEscalations(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.throttle = newThrottle(n.cooldown, n.dedupeWindow)
	return n, nil
}

// Notify implements AlarmNotifier.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if n == nil {
		return
	}
	alarm := event.Alarm
	n.send(ctx, event.Type, alarm)

	if alarm.Published.State != alarms.StateActive {
		n.escalations.disarm(alarm.ID)
		return
	}
	if n.escalateAfter > 0 && severityRanks[normalizeSeverity(alarm.Severity)] >= severityRanks[n.minSeverity] {
		n.escalations.arm(alarm.ID, n.escalateAfter, func() { n.escalate(alarm.ID) })
	}
}

// Close cancels pending escalations. Later events are still sent but never escalate.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.escalations.stop()
}

func (n *Notifier) escalate(alarmID string) {
	alarm, err := n.alarms.Get(alarmID)
	if err != nil || alarm.Published.State != alarms.StateActive {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()
	n.send(ctx, EventEscalated, alarm)
}

func (n *Notifier) send(ctx context.Context, event string, alarm alarms.Alarm) {
	tag := n.tag(alarm.TagID)
	consoleURL := ""
	if n.consoleURL != nil {
		consoleURL = n.consoleURL(ctx, alarm, tag)
	}
	content, err := n.template.Render(templateData(event, alarm, tag, consoleURL))
	if err != nil {
		n.logger.Warn("alarm notification render failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
		return
	}

	key := alarm.ID + "|" + event
	now := n.clock.Now()
	if !n.throttle.allow(key, content, now) {
		n.logger.Debug("alarm notification throttled", zap.String("alarm_id", alarm.ID), zap.String("event", event))
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Warn("alarm notification failed", zap.String("alarm_id", alarm.ID), zap.String("event", event), zap.Error(err))
		return
	}
	n.throttle.record(key, content, now)
}

func (n *Notifier) tag(id string) *tags.Tag {
	if n.tags == nil || id == "" {
		return nil
	}
	tag, err := n.tags.Get(id)
	if err != nil {
		return nil
	}
	return &tag
}

var severityRanks = map[string]int{
	"":         0,
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

func normalizeSeverity(severity string) string {
	return strings.ToLower(strings.TrimSpace(severity))
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
