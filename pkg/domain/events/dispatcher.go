package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// Committed is an event that has been durably appended, with the stream state
// right after it.
type Committed struct {
	StreamID string
	Version  int64
	Event    session.Event
	State    session.TaskState
}

// HandlerFunc handles a committed event.
type HandlerFunc func(ctx context.Context, c Committed) error

// HandlerRegistration represents a handler registration for specific event types.
type HandlerRegistration struct {
	EventTypes []session.EventType
	Handler    HandlerFunc
	Name       string // For logging/debugging
}

// wildcard matches every event type.
const wildcard session.EventType = "*"

// Dispatcher dispatches committed events to registered handlers.
// The events are already durable, so a failing handler never keeps the
// others from running.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[session.EventType][]namedHandler
}

// namedHandler wraps a handler with its name for debugging
type namedHandler struct {
	name    string
	handler HandlerFunc
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[session.EventType][]namedHandler),
	}
}

// Register registers a handler for specific event types.
func (d *Dispatcher) Register(reg HandlerRegistration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	nh := namedHandler{
		name:    reg.Name,
		handler: reg.Handler,
	}

	for _, eventType := range reg.EventTypes {
		d.handlers[eventType] = append(d.handlers[eventType], nh)
	}
}

// RegisterHandler is a convenience method to register a single handler for event types.
func (d *Dispatcher) RegisterHandler(name string, handler HandlerFunc, eventTypes ...session.EventType) {
	d.Register(HandlerRegistration{
		Name:       name,
		Handler:    handler,
		EventTypes: eventTypes,
	})
}

// RegisterWildcard registers a handler for all events.
func (d *Dispatcher) RegisterWildcard(name string, handler HandlerFunc) {
	d.RegisterHandler(name, handler, wildcard)
}

// Dispatch runs every handler registered for the event's type, then the
// wildcard handlers, in registration order. Handler errors are collected
// into a DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, c Committed) error {
	d.mu.RLock()
	eventType := c.Event.EventType()
	var handlers []namedHandler
	handlers = append(handlers, d.handlers[eventType]...)
	handlers = append(handlers, d.handlers[wildcard]...)
	d.mu.RUnlock()

	var errs []error
	for _, nh := range handlers {
		if err := nh.handler(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("handler %s failed for event %s@%d: %w", nh.name, eventType, c.Version, err))
		}
	}

	if len(errs) > 0 {
		return &DispatchError{Errors: errs}
	}
	return nil
}

// DispatchAll dispatches a batch in version order.
func (d *Dispatcher) DispatchAll(ctx context.Context, batch []Committed) error {
	var errs []error
	for _, c := range batch {
		if err := d.Dispatch(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &DispatchError{Errors: errs}
	}
	return nil
}

// DispatchError contains multiple errors from event dispatch.
type DispatchError struct {
	Errors []error
}

func (e *DispatchError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("multiple dispatch errors (%d)", len(e.Errors))
}

// Unwrap returns the collected errors for errors.Is/As support.
func (e *DispatchError) Unwrap() []error {
	return e.Errors
}

// CommitBatch pairs appended events with their versions and post-event states,
// starting from the state the batch was decided against.
func CommitBatch(before session.TaskState, firstVersion int64, evts []session.Event) []Committed {
	batch := make([]Committed, 0, len(evts))
	state := before
	for i, ev := range evts {
		state = session.Evolve(state, ev)
		batch = append(batch, Committed{
			StreamID: before.StreamID,
			Version:  firstVersion + int64(i),
			Event:    ev,
			State:    state,
		})
	}
	return batch
}
