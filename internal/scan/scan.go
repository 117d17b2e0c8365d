package scan

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"plantwatch/internal/observability/metrics"
)

// Marker grants cluster-wide scan claims. Claim stores now and returns true iff the
// previous claim of name is older than half of period.
type Marker interface {
	Claim(ctx context.Context, name string, now time.Time, period time.Duration) (bool, error)
}

// Due reports whether a claim made at last may be superseded at now.
func Due(last, now time.Time, period time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= period/2
}

// Job is one scan pass. It returns the number of entities acted on.
type Job func(ctx context.Context, now time.Time) (int, error)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// Runner triggers a job periodically after claiming the marker.
type Runner struct {
	name         string
	period       time.Duration
	initialDelay time.Duration
	job          Job
	marker       Marker
	clock        Clock
	logger       *zap.Logger
}

// Option configures a runner.
type Option func(*Runner)

// WithInitialDelay postpones the first pass.
func WithInitialDelay(delay time.Duration) Option {
	return func(r *Runner) {
		if delay >= 0 {
			r.initialDelay = delay
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner constructs a scan runner.
func NewRunner(name string, period time.Duration, job Job, marker Marker, opts ...Option) (*Runner, error) {
	if name == "" {
		return nil, errors.New("scan: empty name")
	}
	if period <= 0 {
		return nil, errors.New("scan: period must be positive")
	}
	if job == nil {
		return nil, errors.New("scan: nil job")
	}
	if marker == nil {
		return nil, errors.New("scan: nil marker")
	}
	r := &Runner{
		name:   name,
		period: period,
		job:    job,
		marker: marker,
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name returns the scan name.
func (r *Runner) Name() string {
	return r.name
}

// Start runs the loop until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	if r.initialDelay > 0 {
		timer := time.NewTimer(r.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims the marker and runs one pass. It reports whether the pass ran.
func (r *Runner) RunOnce(ctx context.Context) bool {
	now := r.clock.Now()
	claimed, err := r.marker.Claim(ctx, r.name, now, r.period)
	if err != nil {
		metrics.ObserveScan(r.name, metrics.ResultError)
		r.logger.Warn("scan claim failed", zap.String("scan", r.name), zap.Error(err))
		return false
	}
	if !claimed {
		metrics.ObserveScan(r.name, metrics.ResultSkipped)
		r.logger.Debug("scan claimed elsewhere", zap.String("scan", r.name))
		return false
	}

	count, err := r.job(ctx, now)
	if err != nil {
		metrics.ObserveScan(r.name, metrics.ResultError)
		r.logger.Warn("scan pass failed", zap.String("scan", r.name), zap.Int("count", count), zap.Error(err))
		return true
	}
	metrics.ObserveScan(r.name, metrics.ResultSuccess)
	if count > 0 {
		r.logger.Info("scan pass completed", zap.String("scan", r.name), zap.Int("count", count))
	}
	return true
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
