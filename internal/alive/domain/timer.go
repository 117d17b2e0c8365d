package alive

import (
	"errors"
	"fmt"
	"time"

	supervision "plantwatch/internal/supervision/domain"
)

// ErrNotFound indicates a missing alive timer.
var ErrNotFound = errors.New("alive timer: not found")

// Timer tracks heartbeats of one alive tag. It is keyed by the alive tag id.
// LastUpdate is the server receipt time and drives expiry; LastSourceTime is the DAQ
// timestamp of that heartbeat and only orders heartbeats.
type Timer struct {
	ID             string          `json:"id" msgpack:"id"`
	Owner          supervision.Ref `json:"owner" msgpack:"owner"`
	Interval       time.Duration   `json:"interval" msgpack:"interval"`
	LastUpdate     time.Time       `json:"last_update" msgpack:"last_update"`
	LastSourceTime time.Time       `json:"last_source_time" msgpack:"last_source_time"`
	Active         bool            `json:"active" msgpack:"active"`
	Expired        bool            `json:"expired" msgpack:"expired"`
}

// Tolerance is the heartbeat window: the nominal interval plus a third of it for jitter.
func (t Timer) Tolerance() time.Duration {
	return t.Interval + t.Interval/3
}

// ExpiredAt reports whether an active timer has gone without a heartbeat for longer than the tolerance.
func (t Timer) ExpiredAt(now time.Time) bool {
	if !t.Active || t.Interval <= 0 {
		return false
	}
	return now.Sub(t.LastUpdate) > t.Tolerance()
}

// Validate checks timer invariants.
func (t Timer) Validate() error {
	if t.ID == "" {
		return errors.New("alive timer: empty id")
	}
	if t.Owner.ID == "" || !t.Owner.Kind.Valid() {
		return fmt.Errorf("alive timer %s: invalid owner %s", t.ID, t.Owner)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("alive timer %s: interval must be positive", t.ID)
	}
	return nil
}
