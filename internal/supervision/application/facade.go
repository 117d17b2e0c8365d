package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	supervision "plantwatch/internal/supervision/domain"
)

// Facade is the entry point for supervision status changes. Every change is applied to the
// record and cascaded while the subtree lock of its process is held.
type Facade struct {
	records  *cache.Cache[string, supervision.Record]
	cascader *Cascader
	clock    Clock
	logger   *zap.Logger
	newPIK   func() int64
}

// FacadeOption customizes the facade.
type FacadeOption func(*Facade)

// WithClock assigns a clock.
func WithClock(clock Clock) FacadeOption {
	return func(f *Facade) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) FacadeOption {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPIKSource overrides process identifier key generation.
func WithPIKSource(source func() int64) FacadeOption {
	return func(f *Facade) {
		if source != nil {
			f.newPIK = source
		}
	}
}

// NewFacade constructs a supervision facade.
func NewFacade(records *cache.Cache[string, supervision.Record], cascader *Cascader, opts ...FacadeOption) (*Facade, error) {
	if records == nil {
		return nil, errors.New("supervision: nil record cache")
	}
	if cascader == nil {
		return nil, errors.New("supervision: nil cascader")
	}
	f := &Facade{
		records:  records,
		cascader: cascader,
		clock:    systemClock{},
		logger:   zap.NewNop(),
		newPIK:   randomPIK,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Get returns the record of ref.
func (f *Facade) Get(ref supervision.Ref) (supervision.Record, error) {
	record, err := f.records.Get(ref.Key())
	if err != nil {
		return supervision.Record{}, fmt.Errorf("%w: %s", supervision.ErrNotFound, ref)
	}
	return record, nil
}

// List returns every record ordered by cache key.
func (f *Facade) List() []supervision.Record {
	keys := f.records.Keys()
	out := make([]supervision.Record, 0, len(keys))
	for _, key := range keys {
		if record, err := f.records.Get(key); err == nil {
			out = append(out, record)
		}
	}
	return out
}

// Descendants returns the records owned directly or indirectly by ref, parents first.
func (f *Facade) Descendants(ref supervision.Ref) []supervision.Record {
	var out []supervision.Record
	queue := []supervision.Ref{ref}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		record, err := f.records.Get(current.Key())
		if err != nil {
			continue
		}
		if current != ref {
			out = append(out, record)
		}
		queue = append(queue, record.Children()...)
	}
	return out
}

// ChangeStatus moves ref to status and cascades the result. A zero at, or one ahead of the
// clock, uses the clock. Writing the current status again is a no-op.
func (f *Facade) ChangeStatus(ctx context.Context, ref supervision.Ref, status supervision.Status, at time.Time, description string) (supervision.Record, error) {
	if !status.Valid() {
		return supervision.Record{}, fmt.Errorf("%w: %q", supervision.ErrInvalidStatus, string(status))
	}
	if now := f.clock.Now().UTC(); at.IsZero() || at.After(now) {
		at = now
	}
	return f.mutate(ctx, ref, func(current supervision.Record) (supervision.Record, bool, error) {
		if current.Status == status && current.Description == description {
			return current, false, nil
		}
		next, err := current.WithStatus(status, at, description)
		if err != nil {
			return current, false, err
		}
		return next, true, nil
	})
}

// SetReconfiguring flags ref as being reconfigured.
func (f *Facade) SetReconfiguring(ctx context.Context, ref supervision.Ref, reconfiguring bool) error {
	_, err := f.records.Compute(ctx, ref.Key(), func(current supervision.Record, found bool) (supervision.Record, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s", supervision.ErrNotFound, ref)
		}
		if current.Reconfiguring == reconfiguring {
			return current, false, nil
		}
		current.Reconfiguring = reconfiguring
		return current, true, nil
	})
	return err
}

// ConnectProcess registers a new incarnation of an acquisition process and returns its PIK.
func (f *Facade) ConnectProcess(ctx context.Context, processID, host string) (int64, error) {
	ref := supervision.Ref{Kind: supervision.KindProcess, ID: processID}
	now := f.clock.Now().UTC()
	pik := f.newPIK()
	_, err := f.mutate(ctx, ref, func(current supervision.Record) (supervision.Record, bool, error) {
		if current.PIK != 0 && current.Running() {
			return current, false, fmt.Errorf("%w: %s on %s", supervision.ErrProcessConnected, processID, current.Host)
		}
		at := now
		if current.StatusTime.After(at) {
			at = current.StatusTime
		}
		next, err := current.WithStatus(supervision.StatusStartup, at, "process connected from "+host)
		if err != nil {
			return current, false, err
		}
		next.PIK = pik
		next.Host = host
		next.StartedAt = now
		return next, true, nil
	})
	if err != nil {
		return 0, err
	}
	f.logger.Info("process connected", zap.String("process_id", processID), zap.String("host", host))
	return pik, nil
}

// DisconnectProcess stops the process incarnation identified by pik.
func (f *Facade) DisconnectProcess(ctx context.Context, processID string, pik int64) error {
	ref := supervision.Ref{Kind: supervision.KindProcess, ID: processID}
	now := f.clock.Now().UTC()
	_, err := f.mutate(ctx, ref, func(current supervision.Record) (supervision.Record, bool, error) {
		if current.PIK != pik {
			return current, false, fmt.Errorf("%w: %s", supervision.ErrPIKMismatch, processID)
		}
		at := now
		if current.StatusTime.After(at) {
			at = current.StatusTime
		}
		next, err := current.WithStatus(supervision.StatusStopped, at, "process disconnected")
		if err != nil {
			return current, false, err
		}
		next.PIK = 0
		return next, true, nil
	})
	if err != nil {
		return err
	}
	f.logger.Info("process disconnected", zap.String("process_id", processID))
	return nil
}

// mutate applies fn to the record of ref and cascades the written record under the subtree lock.
func (f *Facade) mutate(ctx context.Context, ref supervision.Ref, fn func(current supervision.Record) (supervision.Record, bool, error)) (supervision.Record, error) {
	unlock, err := f.cascader.lock.Lock(ctx, ref)
	if err != nil {
		return supervision.Record{}, err
	}
	defer unlock()

	var written bool
	record, err := f.records.Compute(ctx, ref.Key(), func(current supervision.Record, found bool) (supervision.Record, bool, error) {
		if !found {
			return current, false, fmt.Errorf("%w: %s", supervision.ErrNotFound, ref)
		}
		next, write, err := fn(current)
		written = write
		return next, write, err
	})
	if err != nil {
		return supervision.Record{}, err
	}
	if !written {
		return record, nil
	}
	metrics.IncSupervisionChange(string(record.Kind), string(record.Status))
	f.logger.Debug("supervision status changed",
		zap.String("entity", ref.String()),
		zap.String("status", string(record.Status)),
		zap.String("description", record.Description),
	)
	if err := f.cascader.apply(ctx, record); err != nil {
		return record, fmt.Errorf("cascade %s: %w", ref, err)
	}
	return record, nil
}

func randomPIK() int64 {
	return 100000 + rand.Int64N(900000)
}
