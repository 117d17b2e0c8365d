package supervision

import (
	"errors"
	"fmt"
	"time"

	"plantwatch/internal/cache"
)

// Ref identifies a supervised entity.
type Ref struct {
	Kind Kind   `json:"kind" msgpack:"kind"`
	ID   string `json:"id" msgpack:"id"`
}

// Key is the cache key of the referenced record.
func (r Ref) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func (r Ref) String() string {
	return r.Key()
}

// Record is the supervision state of one process, equipment or sub-equipment.
// The entity kind discriminates the variant; ownership is expressed by ids only.
type Record struct {
	ID             string        `json:"id" msgpack:"id"`
	Kind           Kind          `json:"kind" msgpack:"kind"`
	Name           string        `json:"name" msgpack:"name"`
	Status         Status        `json:"status" msgpack:"status"`
	StatusTime     time.Time     `json:"status_time" msgpack:"status_time"`
	Description    string        `json:"description" msgpack:"description"`
	ParentID       string        `json:"parent_id,omitempty" msgpack:"parent_id"`
	ChildIDs       []string      `json:"child_ids,omitempty" msgpack:"child_ids"`
	TagIDs         []string      `json:"tag_ids,omitempty" msgpack:"tag_ids"`
	AliveTagID     string        `json:"alive_tag_id,omitempty" msgpack:"alive_tag_id"`
	CommFaultTagID string        `json:"comm_fault_tag_id,omitempty" msgpack:"comm_fault_tag_id"`
	StateTagID     string        `json:"state_tag_id,omitempty" msgpack:"state_tag_id"`
	AliveInterval  time.Duration `json:"alive_interval" msgpack:"alive_interval"`
	Reconfiguring  bool          `json:"reconfiguring" msgpack:"reconfiguring"`

	// Process connection bookkeeping.
	PIK       int64     `json:"pik,omitempty" msgpack:"pik"`
	Host      string    `json:"host,omitempty" msgpack:"host"`
	StartedAt time.Time `json:"started_at,omitempty" msgpack:"started_at"`
}

// Ref returns the record reference.
func (r Record) Ref() Ref {
	return Ref{Kind: r.Kind, ID: r.ID}
}

// Running reports the running classification of the current status.
func (r Record) Running() bool {
	return r.Status.Running()
}

// Parent returns the reference of the owning entity.
func (r Record) Parent() (Ref, bool) {
	kind, ok := r.Kind.ParentKind()
	if !ok || r.ParentID == "" {
		return Ref{}, false
	}
	return Ref{Kind: kind, ID: r.ParentID}, true
}

// Children returns references of directly owned entities.
func (r Record) Children() []Ref {
	kind, ok := r.Kind.ChildKind()
	if !ok {
		return nil
	}
	refs := make([]Ref, 0, len(r.ChildIDs))
	for _, id := range r.ChildIDs {
		refs = append(refs, Ref{Kind: kind, ID: id})
	}
	return refs
}

// WithStatus returns a copy carrying the new status. The status time never moves backwards.
func (r Record) WithStatus(status Status, at time.Time, description string) (Record, error) {
	if !status.Valid() {
		return r, fmt.Errorf("%w: %q", ErrInvalidStatus, string(status))
	}
	if at.Before(r.StatusTime) {
		return r, fmt.Errorf("%w: %s at %s before %s", ErrStaleStatus, r.Ref(), at.Format(time.RFC3339Nano), r.StatusTime.Format(time.RFC3339Nano))
	}
	r.Status = status
	r.StatusTime = at
	r.Description = description
	return r, nil
}

// Validate checks record invariants.
func (r Record) Validate() error {
	if r.ID == "" {
		return errors.New("supervision record: empty id")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("supervision record %s: invalid kind %q", r.ID, string(r.Kind))
	}
	if !r.Status.Valid() {
		return fmt.Errorf("supervision record %s: %w: %q", r.ID, ErrInvalidStatus, string(r.Status))
	}
	if r.Kind != KindProcess && r.ParentID == "" {
		return fmt.Errorf("supervision record %s: %s without parent", r.ID, r.Kind)
	}
	if r.AliveInterval < 0 {
		return fmt.Errorf("supervision record %s: negative alive interval", r.ID)
	}
	return nil
}

// EventFlow computes the notifications of a supervision record write.
// First insertion publishes everything; afterwards every write is a supervision update and
// a change is published only when the running classification flips.
func EventFlow(old *Record, next Record) cache.EventSet {
	if old == nil {
		return cache.NewEventSet(cache.EventInserted, cache.EventSupervisionUpdate, cache.EventSupervisionChange)
	}
	events := cache.NewEventSet(cache.EventSupervisionUpdate)
	if old.Status.Running() != next.Status.Running() {
		events = events.With(cache.EventSupervisionChange)
	}
	return events
}
