package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	alive "plantwatch/internal/alive/domain"
	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	supervision "plantwatch/internal/supervision/domain"
)

// StatusChanger applies supervision status changes and their cascade.
type StatusChanger interface {
	Get(ref supervision.Ref) (supervision.Record, error)
	ChangeStatus(ctx context.Context, ref supervision.Ref, status supervision.Status, at time.Time, description string) (supervision.Record, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Monitor tracks heartbeats of alive tags and drives supervision when they stop or resume.
type Monitor struct {
	timers      *cache.Cache[string, alive.Timer]
	supervision StatusChanger
	clock       Clock
	logger      *zap.Logger
}

// Option customizes the monitor.
type Option func(*Monitor)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor constructs a heartbeat monitor.
func NewMonitor(timers *cache.Cache[string, alive.Timer], changer StatusChanger, opts ...Option) (*Monitor, error) {
	if timers == nil {
		return nil, errors.New("alive: nil timer cache")
	}
	if changer == nil {
		return nil, errors.New("alive: nil status changer")
	}
	m := &Monitor{
		timers:      timers,
		supervision: changer,
		clock:       systemClock{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Heartbeat records an alive tag update sent at ts. A heartbeat whose source time is older than
// the last one is ignored. Expiry is measured from the server receipt time, so a DAQ clock
// offset does not shorten the window. An owner that is not running is moved back to RUNNING.
func (m *Monitor) Heartbeat(ctx context.Context, aliveTagID string, ts time.Time) error {
	now := m.clock.Now().UTC()
	if ts.IsZero() {
		ts = now
	}
	var stale bool
	timer, err := m.timers.Compute(ctx, aliveTagID, func(current alive.Timer, found bool) (alive.Timer, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s", alive.ErrNotFound, aliveTagID)
		}
		if ts.Before(current.LastSourceTime) {
			stale = true
			return current, false, nil
		}
		current.LastSourceTime = ts
		current.LastUpdate = now
		current.Active = true
		current.Expired = false
		return current, true, nil
	})
	if err != nil {
		return err
	}
	if stale {
		m.logger.Debug("stale heartbeat ignored", zap.String("alive_tag_id", aliveTagID), zap.Time("ts", ts))
		return nil
	}

	record, err := m.supervision.Get(timer.Owner)
	if err != nil {
		return err
	}
	if record.Status == supervision.StatusRunning || record.Status == supervision.StatusRunningLocal {
		return nil
	}
	_, err = m.supervision.ChangeStatus(ctx, timer.Owner, supervision.StatusRunning, now, "alive tag received")
	if errors.Is(err, supervision.ErrStaleStatus) {
		m.logger.Debug("heartbeat recovery superseded", zap.String("entity", timer.Owner.String()), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Info("heartbeat resumed", zap.String("entity", timer.Owner.String()), zap.String("alive_tag_id", aliveTagID))
	return nil
}

// Scan detects timers expired at now and moves their running owners to DOWN, or to UNCERTAIN
// while the owner is being reconfigured. Failures of one timer are logged and skipped.
// It returns the number of expired timers.
func (m *Monitor) Scan(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for _, id := range m.timers.Keys() {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		timer, err := m.timers.Get(id)
		if err != nil || timer.Expired || !timer.ExpiredAt(now) {
			continue
		}
		ok, err := m.expire(ctx, id, now)
		if err != nil {
			m.logger.Warn("alive expiry failed", zap.String("alive_tag_id", id), zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (m *Monitor) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	var hit bool
	timer, err := m.timers.Compute(ctx, id, func(current alive.Timer, found bool) (alive.Timer, bool, error) {
		if !found || current.Expired || !current.ExpiredAt(now) {
			return current, false, nil
		}
		hit = true
		current.Expired = true
		return current, true, nil
	})
	if err != nil || !hit {
		return false, err
	}
	metrics.IncHeartbeatExpiry(string(timer.Owner.Kind))

	record, err := m.supervision.Get(timer.Owner)
	if err != nil {
		return true, err
	}
	if !record.Running() {
		return true, nil
	}
	status := supervision.StatusDown
	if record.Reconfiguring {
		status = supervision.StatusUncertain
	}
	description := fmt.Sprintf("alive tag %s expired after %s", id, timer.Tolerance())
	if _, err := m.supervision.ChangeStatus(ctx, timer.Owner, status, now, description); err != nil {
		return true, err
	}
	m.logger.Warn("alive expired",
		zap.String("entity", timer.Owner.String()),
		zap.String("status", string(status)),
		zap.Time("last_update", timer.LastUpdate),
	)
	return true, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
