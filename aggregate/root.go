package aggregate

import (
	"fmt"
	"reflect"
)

var (
	// ErrMissingAggregateEventHandler is returned when the aggregate is
	// missing an On{EventName} method for an event it produces or replays
	ErrMissingAggregateEventHandler = fmt.Errorf("missing aggregate event handler")

	// ErrAggregateRootNotAPointer is returned when the supplied aggregate
	// root is not a pointer
	ErrAggregateRootNotAPointer = fmt.Errorf("aggregate needs to be a pointer")

	// ErrAggregateRootNotRehydrated is returned when Apply is called before
	// Rehydrate
	ErrAggregateRootNotRehydrated = fmt.Errorf("aggregate needs to be rehydrated")
)

// Rooter is implemented by event sourced aggregates (usually by embedding
// Root)
type Rooter interface {
	Rehydrate(aggregatePtr Rooter, events ...Event)
	StringID() string
	Version() int64
	Events() []Event

	restore(version int64)
}

// Root represents a reusable event sourcing friendly aggregate base type
// which provides helpers for aggregate initialization and event handler
// execution
type Root[T fmt.Stringer] struct {
	ID T

	version      int64
	domainEvents []Event

	ptr reflect.Value
}

// StringID returns the aggregate's identity in stream id form
func (a *Root[T]) StringID() string { return a.ID.String() }

// Rehydrate constructs the aggregate from already persisted events
func (a *Root[T]) Rehydrate(aggregatePtr Rooter, events ...Event) {
	a.bind(aggregatePtr)

	for _, evt := range events {
		a.mutate(evt.E)

		a.version++
	}
}

// Version returns the persisted version of the aggregate; uncommitted
// events produced by Apply do not count until they are saved
func (a *Root[T]) Version() int64 { return a.version }

// Events returns uncommitted domain events (produced by calling Apply)
func (a *Root[T]) Events() []Event {
	if a.domainEvents == nil {
		return []Event{}
	}

	return a.domainEvents
}

// Apply mutates the aggregate by calling the respective event handler and
// collects the event so it can be saved later.
//
// For an event of type SomethingImportantHappened the aggregate needs a
// method:
//
//	func (a *SomeAggregate) OnSomethingImportantHappened(e SomethingImportantHappened)
func (a *Root[T]) Apply(events ...any) {
	if !a.ptr.IsValid() {
		panic(ErrAggregateRootNotRehydrated)
	}

	for _, evt := range events {
		a.mutate(evt)

		a.domainEvents = append(a.domainEvents, Event{E: evt})
	}
}

func (a *Root[T]) bind(aggregatePtr Rooter) {
	a.ptr = reflect.ValueOf(aggregatePtr)

	if a.ptr.Kind() != reflect.Ptr {
		panic(ErrAggregateRootNotAPointer)
	}
}

// restore fast-forwards the persisted version after snapshot recovery
func (a *Root[T]) restore(version int64) {
	a.version = version
}

func (a *Root[T]) mutate(evt any) {
	ev := reflect.TypeOf(evt)

	hName := fmt.Sprintf("On%s", ev.Name())

	h := a.ptr.MethodByName(hName)

	if !h.IsValid() {
		panic(ErrMissingAggregateEventHandler)
	}

	h.Call([]reflect.Value{
		reflect.ValueOf(evt),
	})
}
