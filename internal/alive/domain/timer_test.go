package alive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	supervision "plantwatch/internal/supervision/domain"
)

func TestExpiredAtUsesFourThirdsTolerance(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	timer := Timer{
		ID:         "P1.ALIVE",
		Owner:      supervision.Ref{Kind: supervision.KindProcess, ID: "P1"},
		Interval:   30 * time.Second,
		LastUpdate: base,
		Active:     true,
	}

	assert.Equal(t, 40*time.Second, timer.Tolerance())
	assert.False(t, timer.ExpiredAt(base.Add(35*time.Second)))
	assert.False(t, timer.ExpiredAt(base.Add(40*time.Second)))
	assert.True(t, timer.ExpiredAt(base.Add(40*time.Second+time.Millisecond)))

	timer.Active = false
	assert.False(t, timer.ExpiredAt(base.Add(time.Hour)))
}
