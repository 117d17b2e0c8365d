package scan

import (
	"context"
	"time"

	"plantwatch/internal/cache"
)

// MemoryMarker keeps claims in a process-local cache. It serves single-node deployments.
type MemoryMarker struct {
	claims *cache.Cache[string, time.Time]
}

// NewMemoryMarker constructs a marker.
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{claims: cache.New[string, time.Time]("scan-markers")}
}

// Claim implements Marker.
func (m *MemoryMarker) Claim(ctx context.Context, name string, now time.Time, period time.Duration) (bool, error) {
	var claimed bool
	_, err := m.claims.Compute(ctx, name, func(last time.Time, _ bool) (time.Time, bool, error) {
		claimed = Due(last, now, period)
		return now, claimed, nil
	})
	return claimed, err
}
