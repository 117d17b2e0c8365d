package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	alive "plantwatch/internal/alive/domain"
	"plantwatch/internal/cache"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Cascader propagates the running classification of a supervision record to its
// control tags, its alive timer and its children.
type Cascader struct {
	records *cache.Cache[string, supervision.Record]
	tags    *cache.Cache[string, tags.Tag]
	timers  *cache.Cache[string, alive.Timer]
	lock    *HierarchyLock
	clock   Clock
	logger  *zap.Logger
}

// CascaderOption customizes the cascader.
type CascaderOption func(*Cascader)

// WithCascaderClock assigns a clock.
func WithCascaderClock(clock Clock) CascaderOption {
	return func(c *Cascader) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCascaderLogger assigns a logger.
func WithCascaderLogger(logger *zap.Logger) CascaderOption {
	return func(c *Cascader) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCascader constructs a cascader.
func NewCascader(records *cache.Cache[string, supervision.Record], tagCache *cache.Cache[string, tags.Tag], timers *cache.Cache[string, alive.Timer], lock *HierarchyLock, opts ...CascaderOption) (*Cascader, error) {
	if records == nil || tagCache == nil || timers == nil {
		return nil, errors.New("supervision: nil cache")
	}
	if lock == nil {
		return nil, errors.New("supervision: nil hierarchy lock")
	}
	c := &Cascader{
		records: records,
		tags:    tagCache,
		timers:  timers,
		lock:    lock,
		clock:   systemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Apply re-reads the record of ref and cascades its current status under the hierarchy lock.
func (c *Cascader) Apply(ctx context.Context, ref supervision.Ref) error {
	unlock, err := c.lock.Lock(ctx, ref)
	if err != nil {
		return err
	}
	defer unlock()

	record, err := c.records.Get(ref.Key())
	if err != nil {
		return fmt.Errorf("%w: %s", supervision.ErrNotFound, ref)
	}
	return c.apply(ctx, record)
}

// apply cascades record. The caller holds the hierarchy lock.
func (c *Cascader) apply(ctx context.Context, record supervision.Record) error {
	running := record.Running()
	now := c.clock.Now().UTC()

	var errs []error
	if record.AliveTagID != "" {
		errs = append(errs, c.setControlTag(ctx, record, record.AliveTagID, running, now))
	}
	if record.CommFaultTagID != "" {
		errs = append(errs, c.setControlTag(ctx, record, record.CommFaultTagID, running, now))
	}
	if record.StateTagID != "" {
		errs = append(errs, c.setControlTag(ctx, record, record.StateTagID, string(record.Status), now))
	}
	if record.AliveTagID != "" {
		errs = append(errs, c.setTimer(ctx, record, running, now))
	}
	if running {
		for _, child := range record.Children() {
			if err := c.forceRunning(ctx, child, record); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// forceRunning moves a non-running child of a running parent to RUNNING and cascades it.
func (c *Cascader) forceRunning(ctx context.Context, child supervision.Ref, parent supervision.Record) error {
	var changed bool
	updated, err := c.records.Compute(ctx, child.Key(), func(current supervision.Record, found bool) (supervision.Record, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s", supervision.ErrNotFound, child)
		}
		if current.Running() {
			return current, false, nil
		}
		at := parent.StatusTime
		if current.StatusTime.After(at) {
			at = current.StatusTime
		}
		next, err := current.WithStatus(supervision.StatusRunning, at, fmt.Sprintf("%s %s is running", parent.Kind, parent.ID))
		if err != nil {
			return current, false, err
		}
		changed = true
		return next, true, nil
	})
	if err != nil {
		c.logger.Warn("cascade to child failed",
			zap.String("parent", parent.Ref().String()),
			zap.String("child", child.String()),
			zap.Error(err),
		)
		return err
	}
	if !changed {
		return nil
	}
	return c.apply(ctx, updated)
}

func (c *Cascader) setControlTag(ctx context.Context, record supervision.Record, tagID string, value any, now time.Time) error {
	_, err := c.tags.Compute(ctx, tagID, func(current tags.Tag, found bool) (tags.Tag, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s control tag %s", tags.ErrNotFound, record.Ref(), tagID)
		}
		if current.Value == value && current.Valid() {
			return current, false, nil
		}
		next := current
		next.Value = value
		next.ValueDescription = record.Description
		next.Quality = tags.Quality{}
		next.SourceTime = record.StatusTime
		next.DAQTime = record.StatusTime
		next.ServerTime = now
		return next, true, nil
	})
	if err != nil {
		c.logger.Warn("control tag update failed",
			zap.String("entity", record.Ref().String()),
			zap.String("tag_id", tagID),
			zap.Error(err),
		)
	}
	return err
}

func (c *Cascader) setTimer(ctx context.Context, record supervision.Record, running bool, now time.Time) error {
	_, err := c.timers.Compute(ctx, record.AliveTagID, func(current alive.Timer, found bool) (alive.Timer, bool, error) {
		if !found {
			return current, false, nil
		}
		if current.Active == running && !current.Expired {
			return current, false, nil
		}
		next := current
		next.Active = running
		next.Expired = false
		if running {
			next.LastUpdate = now
		}
		return next, true, nil
	})
	if err != nil {
		c.logger.Warn("alive timer update failed",
			zap.String("entity", record.Ref().String()),
			zap.Error(err),
		)
	}
	return err
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
