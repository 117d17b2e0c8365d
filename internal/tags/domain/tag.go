package tags

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	supervision "plantwatch/internal/supervision/domain"
)

// ErrNotFound indicates a missing tag.
var ErrNotFound = errors.New("tag: not found")

// ErrReadOnly rejects DAQ updates of server-owned tags.
var ErrReadOnly = errors.New("tag: server-owned tag")

// Kind distinguishes measurement tags from synthetic health tags.
type Kind string

const (
	KindData      Kind = "data"
	KindAlive     Kind = "alive"
	KindCommFault Kind = "commfault"
	KindState     Kind = "state"
)

// Reason explains why a tag value is invalid.
type Reason string

const (
	ReasonInaccessible     Reason = "INACCESSIBLE"
	ReasonOutOfBounds      Reason = "VALUE_OUT_OF_BOUNDS"
	ReasonDataUnavailable  Reason = "DATA_UNAVAILABLE"
	ReasonProcessDown      Reason = "PROCESS_DOWN"
	ReasonEquipmentDown    Reason = "EQUIPMENT_DOWN"
	ReasonSubEquipmentDown Reason = "SUBEQUIPMENT_DOWN"
	ReasonUninitialised    Reason = "UNINITIALISED"
	ReasonUnknown          Reason = "UNKNOWN_REASON"
)

// SupervisionReason maps an entity kind to the reason used when it is not running.
func SupervisionReason(kind supervision.Kind) Reason {
	switch kind {
	case supervision.KindProcess:
		return ReasonProcessDown
	case supervision.KindEquipment:
		return ReasonEquipmentDown
	case supervision.KindSubEquipment:
		return ReasonSubEquipmentDown
	default:
		return ReasonUnknown
	}
}

// Quality carries the invalidity reasons of a tag value. The zero value is valid.
type Quality struct {
	Invalid map[Reason]string `json:"invalid,omitempty" msgpack:"invalid"`
}

// Valid reports whether no invalidity reason is set.
func (q Quality) Valid() bool {
	return len(q.Invalid) == 0
}

// Has reports whether reason is set.
func (q Quality) Has(reason Reason) bool {
	_, ok := q.Invalid[reason]
	return ok
}

// WithReason returns a copy with reason added.
func (q Quality) WithReason(reason Reason, description string) Quality {
	next := make(map[Reason]string, len(q.Invalid)+1)
	maps.Copy(next, q.Invalid)
	next[reason] = description
	return Quality{Invalid: next}
}

// Without returns a copy with reason removed.
func (q Quality) Without(reason Reason) Quality {
	if !q.Has(reason) {
		return q
	}
	next := maps.Clone(q.Invalid)
	delete(next, reason)
	if len(next) == 0 {
		return Quality{}
	}
	return Quality{Invalid: next}
}

// Reasons lists set reasons in sorted order.
func (q Quality) Reasons() []Reason {
	return slices.Sorted(maps.Keys(q.Invalid))
}

func (q Quality) String() string {
	if q.Valid() {
		return "OK"
	}
	parts := make([]string, 0, len(q.Invalid))
	for _, reason := range q.Reasons() {
		parts = append(parts, string(reason))
	}
	return strings.Join(parts, "|")
}

// Tag is a measurement or synthetic health tag.
type Tag struct {
	ID               string          `json:"id" msgpack:"id"`
	Name             string          `json:"name" msgpack:"name"`
	Kind             Kind            `json:"kind" msgpack:"kind"`
	Value            any             `json:"value" msgpack:"value"`
	ValueDescription string          `json:"value_description,omitempty" msgpack:"value_description"`
	Quality          Quality         `json:"quality" msgpack:"quality"`
	SourceTime       time.Time       `json:"source_time" msgpack:"source_time"`
	DAQTime          time.Time       `json:"daq_time" msgpack:"daq_time"`
	ServerTime       time.Time       `json:"server_time" msgpack:"server_time"`
	AlarmIDs         []string        `json:"alarm_ids,omitempty" msgpack:"alarm_ids"`
	ProcessIDs       []string        `json:"process_ids,omitempty" msgpack:"process_ids"`
	EquipmentIDs     []string        `json:"equipment_ids,omitempty" msgpack:"equipment_ids"`
	SubEquipmentIDs  []string        `json:"subequipment_ids,omitempty" msgpack:"subequipment_ids"`
	Owner            supervision.Ref `json:"owner" msgpack:"owner"`
}

// Valid reports whether the tag quality is valid.
func (t Tag) Valid() bool {
	return t.Quality.Valid()
}

// Initialised reports whether a value has ever been received.
func (t Tag) Initialised() bool {
	return t.Value != nil
}

// SupervisionRefs lists every entity whose status affects the tag.
func (t Tag) SupervisionRefs() []supervision.Ref {
	refs := make([]supervision.Ref, 0, len(t.ProcessIDs)+len(t.EquipmentIDs)+len(t.SubEquipmentIDs))
	for _, id := range t.ProcessIDs {
		refs = append(refs, supervision.Ref{Kind: supervision.KindProcess, ID: id})
	}
	for _, id := range t.EquipmentIDs {
		refs = append(refs, supervision.Ref{Kind: supervision.KindEquipment, ID: id})
	}
	for _, id := range t.SubEquipmentIDs {
		refs = append(refs, supervision.Ref{Kind: supervision.KindSubEquipment, ID: id})
	}
	return refs
}

// Validate checks tag invariants.
func (t Tag) Validate() error {
	if t.ID == "" {
		return errors.New("tag: empty id")
	}
	switch t.Kind {
	case KindData:
	case KindAlive, KindCommFault, KindState:
		if t.Owner.ID == "" {
			return fmt.Errorf("tag %s: %s tag without owner", t.ID, t.Kind)
		}
	default:
		return fmt.Errorf("tag %s: invalid kind %q", t.ID, string(t.Kind))
	}
	return nil
}

// Update is a value update delivered by an acquisition process.
type Update struct {
	TagID            string            `json:"tag_id"`
	Value            any               `json:"value"`
	ValueDescription string            `json:"value_description,omitempty"`
	Invalid          map[Reason]string `json:"invalid,omitempty"`
	SourceTime       time.Time         `json:"source_time"`
	DAQTime          time.Time         `json:"daq_time"`
}

// Apply returns a copy of the tag carrying the update. An update without a source time
// falls back to its DAQ time and never moves the stored source time backwards.
func (t Tag) Apply(u Update, serverTime time.Time) Tag {
	source := u.SourceTime
	if source.IsZero() {
		source = u.DAQTime
		if source.Before(t.SourceTime) {
			source = t.SourceTime
		}
	}
	t.Value = u.Value
	t.ValueDescription = u.ValueDescription
	t.Quality = Quality{}
	if len(u.Invalid) > 0 {
		t.Quality = Quality{Invalid: maps.Clone(u.Invalid)}
	}
	t.SourceTime = source
	t.DAQTime = u.DAQTime
	t.ServerTime = serverTime
	return t
}

// BoolValue interprets the tag value as a boolean.
func BoolValue(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		return v != 0, true
	}
	return false, false
}
