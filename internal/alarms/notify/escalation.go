package notify

import (
	"sync"
	"time"
)

// escalations holds one pending reminder per alarm.
type escalations struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

func newEscalations() *escalations {
	return &escalations{pending: make(map[string]*time.Timer)}
}

// arm replaces any pending reminder of alarmID with fn after delay.
func (e *escalations) arm(alarmID string, delay time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if timer := e.pending[alarmID]; timer != nil {
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		current := e.pending[alarmID] == timer
		if current {
			delete(e.pending, alarmID)
		}
		e.mu.Unlock()
		if current {
			fn()
		}
	})
	e.pending[alarmID] = timer
}

func (e *escalations) disarm(alarmID string) {
	e.mu.Lock()
	timer := e.pending[alarmID]
	delete(e.pending, alarmID)
	e.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (e *escalations) stop() {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*time.Timer)
	e.closed = true
	e.mu.Unlock()
	for _, timer := range pending {
		timer.Stop()
	}
}

func (e *escalations) size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
