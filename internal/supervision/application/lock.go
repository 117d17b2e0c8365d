package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plantwatch/internal/cache"
	"plantwatch/internal/observability/metrics"
	supervision "plantwatch/internal/supervision/domain"
)

// maxDepth bounds parent walks; the hierarchy has three levels.
const maxDepth = 3

// HierarchyLock serializes mutations of one process subtree. The lock key is the root process id.
type HierarchyLock struct {
	records *cache.Cache[string, supervision.Record]
	locks   *cache.KeyLocks[string]
}

// NewHierarchyLock constructs a hierarchy lock over the supervision cache.
func NewHierarchyLock(records *cache.Cache[string, supervision.Record], timeout time.Duration) (*HierarchyLock, error) {
	if records == nil {
		return nil, errors.New("supervision: nil record cache")
	}
	if timeout <= 0 {
		timeout = cache.DefaultLockTimeout
	}
	return &HierarchyLock{records: records, locks: cache.NewKeyLocks[string](timeout)}, nil
}

// Root resolves the process owning ref.
func (h *HierarchyLock) Root(ref supervision.Ref) (string, error) {
	current := ref
	for range maxDepth {
		if current.Kind == supervision.KindProcess {
			return current.ID, nil
		}
		record, err := h.records.Get(current.Key())
		if err != nil {
			return "", fmt.Errorf("%w: %s", supervision.ErrNotFound, current)
		}
		parent, ok := record.Parent()
		if !ok {
			return "", fmt.Errorf("supervision: %s has no parent", current)
		}
		current = parent
	}
	return "", fmt.Errorf("supervision: hierarchy of %s deeper than %d levels", ref, maxDepth)
}

// Lock acquires the subtree lock of ref and returns its release function.
func (h *HierarchyLock) Lock(ctx context.Context, ref supervision.Ref) (func(), error) {
	root, err := h.Root(ref)
	if err != nil {
		return nil, err
	}
	if err := h.locks.Lock(ctx, root); err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			metrics.IncLockTimeout("supervision")
		}
		return nil, fmt.Errorf("supervision hierarchy %s: %w", root, err)
	}
	return func() { h.locks.Unlock(root) }, nil
}
