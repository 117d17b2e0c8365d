package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"plantwatch/internal/cache"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

// SupervisionTrigger re-evaluates the tags depending on an entity whose running state flipped.
type SupervisionTrigger struct {
	tags       *cache.Cache[string, tags.Tag]
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewSupervisionTrigger constructs a trigger.
func NewSupervisionTrigger(tagCache *cache.Cache[string, tags.Tag], aggregator *Aggregator, logger *zap.Logger) (*SupervisionTrigger, error) {
	if tagCache == nil {
		return nil, errors.New("alarms: nil tag cache")
	}
	if aggregator == nil {
		return nil, errors.New("alarms: nil aggregator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupervisionTrigger{tags: tagCache, aggregator: aggregator, logger: logger}, nil
}

// Listener returns the supervision cache listener for SUPERVISION_CHANGE events.
func (t *SupervisionTrigger) Listener() cache.Listener[string, supervision.Record] {
	return func(ctx context.Context, evt cache.Event[string, supervision.Record]) error {
		return t.Trigger(ctx, evt.Value)
	}
}

// Trigger re-evaluates every tag of record. Missing tags are logged and skipped.
func (t *SupervisionTrigger) Trigger(ctx context.Context, record supervision.Record) error {
	for _, id := range record.TagIDs {
		tag, err := t.tags.Get(id)
		if err != nil {
			t.logger.Warn("supervised tag missing",
				zap.String("entity", record.Ref().String()),
				zap.String("tag_id", id),
			)
			continue
		}
		if err := t.aggregator.OnSupervisionChange(ctx, tag); err != nil {
			return err
		}
	}
	return nil
}
