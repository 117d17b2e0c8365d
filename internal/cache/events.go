package cache

import (
	"context"
	"strings"
)

// EventKind identifies a notification published for a cache write.
type EventKind uint8

const (
	EventInserted EventKind = 1 << iota
	EventUpdated
	EventSupervisionUpdate
	EventSupervisionChange
)

// eventOrder fixes the order in which listeners of different kinds are called.
var eventOrder = []EventKind{EventInserted, EventUpdated, EventSupervisionUpdate, EventSupervisionChange}

func (k EventKind) String() string {
	switch k {
	case EventInserted:
		return "INSERTED"
	case EventUpdated:
		return "UPDATED"
	case EventSupervisionUpdate:
		return "SUPERVISION_UPDATE"
	case EventSupervisionChange:
		return "SUPERVISION_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// EventSet is a set of event kinds.
type EventSet uint8

// NewEventSet builds a set from kinds.
func NewEventSet(kinds ...EventKind) EventSet {
	var set EventSet
	for _, kind := range kinds {
		set |= EventSet(kind)
	}
	return set
}

// Has reports whether kind is in the set.
func (s EventSet) Has(kind EventKind) bool {
	return s&EventSet(kind) != 0
}

// With returns a copy of the set including kind.
func (s EventSet) With(kind EventKind) EventSet {
	return s | EventSet(kind)
}

// Kinds lists the set members in publication order.
func (s EventSet) Kinds() []EventKind {
	kinds := make([]EventKind, 0, len(eventOrder))
	for _, kind := range eventOrder {
		if s.Has(kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (s EventSet) String() string {
	kinds := s.Kinds()
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Flow computes the events of a write from the previous value (nil on first insert) and the new one.
type Flow[V any] func(old *V, next V) EventSet

// DefaultFlow publishes INSERTED on the first write and UPDATED on every write.
func DefaultFlow[V any](old *V, _ V) EventSet {
	if old == nil {
		return NewEventSet(EventInserted, EventUpdated)
	}
	return NewEventSet(EventUpdated)
}

// Event is delivered to listeners after a committed write.
type Event[K comparable, V any] struct {
	Kind  EventKind
	Key   K
	Old   *V
	Value V
}

// Listener handles cache events. Listeners run synchronously on the writing goroutine
// while the written key is still locked.
type Listener[K comparable, V any] func(ctx context.Context, event Event[K, V]) error
