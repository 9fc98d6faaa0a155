// Package dispatch fans inbound channel events out to their consumers.
// Dispatch is synchronous: every subsystem mutates its state inside the
// handler invocation, which is what serializes all mutation in the core.
package dispatch

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tracing "github.com/agentsync-dev/agentsync/internal/observability"
	obs "github.com/agentsync-dev/agentsync/pkg/observability"
	"github.com/agentsync-dev/agentsync/wire"
)

// Handler consumes one decoded event. Handlers must not block and must
// not panic; a panicking handler is recovered, logged, and the event is
// counted as dropped for that subscriber.
type Handler func(ev wire.Event)

// Dispatcher routes decoded events to registered handlers.
// Multiple independent subscribers may register for the same event name;
// dispatch order across subscribers is unspecified. Re-registering for
// the same logical consumer without first unsubscribing duplicates
// delivery; that bookkeeping is the caller's responsibility.
//
// Dispatcher is safe for concurrent use, though in practice all
// Dispatch calls arrive from the single transport read loop.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		subs: make(map[string]map[int]Handler),
	}
}

// On registers a handler for the given event name and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (d *Dispatcher) On(name string, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subs[name] == nil {
		d.subs[name] = make(map[int]Handler)
	}
	id := d.nextID
	d.nextID++
	d.subs[name][id] = h

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs[name], id)
	}
}

// On registers a typed handler for the concrete event type T. The event
// name is derived from T's zero value, so subscription and payload type
// can never disagree.
func On[T wire.Event](d *Dispatcher, h func(T)) func() {
	var zero T
	return d.On(zero.Name(), func(ev wire.Event) {
		if typed, ok := ev.(T); ok {
			h(typed)
		}
	})
}

// Dispatch delivers a decoded event to every subscriber synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, ev wire.Event) {
	name := ev.Name()

	_, span := tracing.StartSpan(ctx, "dispatch."+name,
		trace.WithAttributes(attribute.String("event", name)))
	defer span.End()

	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.subs[name]))
	for _, h := range d.subs[name] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	obs.RecordEventDispatched(name)

	for _, h := range handlers {
		d.invoke(name, h, ev)
	}
}

// DispatchRaw decodes a raw transport frame and dispatches it.
// Undecodable frames are dropped; the core never raises out of the
// event path.
func (d *Dispatcher) DispatchRaw(ctx context.Context, name string, payload []byte) {
	ev, err := wire.Decode(name, payload)
	if err != nil {
		log.Printf("dispatch: dropping %s: %v", name, err)
		obs.RecordEventDropped("decode")
		return
	}
	d.Dispatch(ctx, ev)
}

func (d *Dispatcher) invoke(name string, h Handler, ev wire.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: handler panic on %s: %v", name, r)
			obs.RecordEventDropped("panic")
		}
	}()
	h(ev)
}
