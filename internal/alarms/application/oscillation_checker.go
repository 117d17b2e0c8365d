package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	tags "plantwatch/internal/tags/domain"
)

// OscillationChecker looks for oscillating alarms that stopped flapping. Such alarms produce no
// tag update of their own, so the checker re-reads the tag, clears the flag and republishes.
type OscillationChecker struct {
	alarms    *cache.Cache[string, alarms.Alarm]
	tags      *cache.Cache[string, tags.Tag]
	evaluator *Evaluator
	appender  TagAppender
	notifier  AlarmNotifier
	logger    *zap.Logger
}

// CheckerOption customizes the oscillation checker.
type CheckerOption func(*OscillationChecker)

// WithCheckerAppender assigns the supervision quality appender.
func WithCheckerAppender(appender TagAppender) CheckerOption {
	return func(c *OscillationChecker) {
		if appender != nil {
			c.appender = appender
		}
	}
}

// WithCheckerNotifier assigns a notifier.
func WithCheckerNotifier(notifier AlarmNotifier) CheckerOption {
	return func(c *OscillationChecker) {
		c.notifier = notifier
	}
}

// WithCheckerLogger assigns a logger.
func WithCheckerLogger(logger *zap.Logger) CheckerOption {
	return func(c *OscillationChecker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOscillationChecker constructs a checker.
func NewOscillationChecker(alarmCache *cache.Cache[string, alarms.Alarm], tagCache *cache.Cache[string, tags.Tag], evaluator *Evaluator, opts ...CheckerOption) (*OscillationChecker, error) {
	if alarmCache == nil || tagCache == nil {
		return nil, errors.New("alarms: nil cache")
	}
	if evaluator == nil {
		return nil, errors.New("alarms: nil evaluator")
	}
	c := &OscillationChecker{
		alarms:    alarmCache,
		tags:      tagCache,
		evaluator: evaluator,
		appender:  noopAppender{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Scan settles every oscillating alarm without a transition for a full window and returns
// how many were cleared. A missing tag is logged and retried on the next pass.
func (c *OscillationChecker) Scan(ctx context.Context) (int, error) {
	now := c.evaluator.clock.Now().UTC()
	policy := c.evaluator.Policy()
	cleared := 0
	for _, id := range c.alarms.Keys() {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		alarm, err := c.alarms.Get(id)
		if err != nil || !alarm.Oscillation.Settled(now, policy) {
			continue
		}
		tag, err := c.tags.Get(alarm.TagID)
		if err != nil {
			c.logger.Warn("oscillation check skipped, tag missing",
				zap.String("alarm_id", id),
				zap.String("tag_id", alarm.TagID),
			)
			continue
		}
		outcome, err := c.evaluator.Settle(ctx, c.appender.Apply(tag), id)
		if err != nil {
			c.logger.Warn("oscillation check failed", zap.String("alarm_id", id), zap.Error(err))
			continue
		}
		if !outcome.Changed {
			continue
		}
		cleared++
		c.logger.Info("alarm oscillation cleared",
			zap.String("alarm_id", id),
			zap.String("state", string(outcome.Alarm.State)),
		)
		event := AlarmEvent{Type: EventRepublished, Alarm: outcome.Alarm}
		metrics.IncAlarmEvent(event.Type)
		if c.notifier != nil {
			c.notifier.Notify(ctx, event)
		}
	}
	return cleared, nil
}
