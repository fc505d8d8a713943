package watch

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"inkwell/api/internal/bus"
)

// Handler receives one classified change event. Returning an error (or
// panicking) is logged and isolated: it never blocks later handlers or
// the polling loop.
type Handler func(ctx context.Context, evt Event) error

// Dispatcher fans classified events out to an ordered list of
// registered handlers, sequentially and in registration order, then
// mirrors each event onto the general-purpose bus for secondary
// listeners that attach after the fact.
type Dispatcher struct {
	mu       sync.Mutex
	handlers []Handler
	bus      *bus.Bus
}

func NewDispatcher(eventBus *bus.Bus) *Dispatcher {
	return &Dispatcher{bus: eventBus}
}

// Register appends a handler. Handlers are never removed; a consumer
// that wants to detach should ignore events instead.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// HandlerCount reports how many handlers are registered.
func (d *Dispatcher) HandlerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Dispatch delivers evt to every registered handler in order, waiting
// for each before invoking the next so consumers observe events in
// classification order.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	d.mu.Lock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	for i, handler := range handlers {
		d.deliver(ctx, i, handler, evt)
	}

	if d.bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			log.Printf("watch: marshal event for bus: %v", err)
			return
		}
		d.bus.Publish(ctx, payload)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, index int, handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("watch: handler %d panicked on %s for %s: %v", index, evt.Event, evt.ItemID, r)
		}
	}()
	if err := handler(ctx, evt); err != nil {
		log.Printf("watch: handler %d failed on %s for %s: %v", index, evt.Event, evt.ItemID, err)
	}
}
