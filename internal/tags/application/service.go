package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

// HeartbeatRecorder receives alive tag updates.
type HeartbeatRecorder interface {
	Heartbeat(ctx context.Context, aliveTagID string, ts time.Time) error
}

// StatusChanger applies supervision status changes.
type StatusChanger interface {
	ChangeStatus(ctx context.Context, ref supervision.Ref, status supervision.Status, at time.Time, description string) (supervision.Record, error)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// Service applies acquisition updates to the tag cache. Data tag writes fire the cache
// listeners, so alarm evaluation runs on the calling goroutine under the tag's key lock.
type Service struct {
	tags        *cache.Cache[string, tags.Tag]
	heartbeats  HeartbeatRecorder
	supervision StatusChanger
	clock       Clock
	logger      *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a tag service.
func NewService(tagCache *cache.Cache[string, tags.Tag], heartbeats HeartbeatRecorder, changer StatusChanger, opts ...Option) (*Service, error) {
	if tagCache == nil {
		return nil, errors.New("tags: nil cache")
	}
	if heartbeats == nil {
		return nil, errors.New("tags: nil heartbeat recorder")
	}
	if changer == nil {
		return nil, errors.New("tags: nil status changer")
	}
	s := &Service{
		tags:        tagCache,
		heartbeats:  heartbeats,
		supervision: changer,
		clock:       systemClock{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns a tag by id.
func (s *Service) Get(id string) (tags.Tag, error) {
	tag, err := s.tags.Get(id)
	if err != nil {
		return tags.Tag{}, fmt.Errorf("%w: %s", tags.ErrNotFound, id)
	}
	return tag, nil
}

// List returns every tag ordered by id.
func (s *Service) List() []tags.Tag {
	keys := s.tags.Keys()
	list := make([]tags.Tag, 0, len(keys))
	for _, key := range keys {
		if tag, err := s.tags.Get(key); err == nil {
			list = append(list, tag)
		}
	}
	return list
}

// Update routes one acquisition update by tag kind.
func (s *Service) Update(ctx context.Context, update tags.Update) error {
	tag, err := s.Get(update.TagID)
	if err != nil {
		return err
	}
	metrics.IncTagUpdate(string(tag.Kind))

	switch tag.Kind {
	case tags.KindAlive:
		ts := update.SourceTime
		if ts.IsZero() {
			ts = update.DAQTime
		}
		return s.heartbeats.Heartbeat(ctx, tag.ID, ts)
	case tags.KindCommFault:
		return s.commFault(ctx, tag, update)
	case tags.KindState:
		return fmt.Errorf("%w: %s", tags.ErrReadOnly, tag.ID)
	default:
		return s.data(ctx, update)
	}
}

func (s *Service) commFault(ctx context.Context, tag tags.Tag, update tags.Update) error {
	healthy, ok := tags.BoolValue(update.Value)
	if !ok {
		return fmt.Errorf("tags: comm fault tag %s: non-boolean value %v", tag.ID, update.Value)
	}
	status := supervision.StatusDown
	description := "communication fault reported"
	if healthy {
		status = supervision.StatusRunning
		description = "communication restored"
	}
	// Status times share the server clock with heartbeat recovery and expiry.
	_, err := s.supervision.ChangeStatus(ctx, tag.Owner, status, s.clock.Now().UTC(), description)
	if errors.Is(err, supervision.ErrStaleStatus) {
		s.logger.Debug("comm fault update superseded", zap.String("tag_id", tag.ID), zap.Error(err))
		return nil
	}
	return err
}

func (s *Service) data(ctx context.Context, update tags.Update) error {
	var stale bool
	_, err := s.tags.Compute(ctx, update.TagID, func(current tags.Tag, found bool) (tags.Tag, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s", tags.ErrNotFound, update.TagID)
		}
		if !update.SourceTime.IsZero() && update.SourceTime.Before(current.SourceTime) {
			stale = true
			return current, false, nil
		}
		return current.Apply(update, s.clock.Now()), true, nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			metrics.IncLockTimeout("tags")
		}
		return err
	}
	if stale {
		metrics.IncStaleUpdate()
		s.logger.Debug("out of order tag update discarded",
			zap.String("tag_id", update.TagID),
			zap.Time("source_time", update.SourceTime),
		)
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
