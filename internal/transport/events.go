package transport

import (
	"sync"

	"github.com/lunahq/realtime/internal/protocol"
)

// Lifecycle event names. Wire events reuse their protocol frame types
// (llm_chunk, llm_complete, status, control, communication_error, tool_*).
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventReconnecting = "reconnecting"
	EventError        = "error"
)

// Event is delivered to subscribed handlers.
type Event struct {
	Name string

	// Envelope is set for wire events.
	Envelope *protocol.Envelope

	// Err is set for error events.
	Err error

	// Attempt is set for reconnecting events (1-based).
	Attempt int
}

// Handler consumes events. Handlers run on the client's dispatch goroutine;
// long work should be handed off.
type Handler func(Event)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// emitter fans events out to multiple subscribers per event name, preserving
// subscription order.
type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string][]subscription
}

type subscription struct {
	id int
	fn Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[string][]subscription)}
}

// on registers a handler for an event name and returns its unsubscribe.
func (e *emitter) on(name string, fn Handler) Unsubscribe {
	e.mu.Lock()
	e.nextID++
	sid := e.nextID
	e.handlers[name] = append(e.handlers[name], subscription{id: sid, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[name]
		for i, s := range subs {
			if s.id == sid {
				e.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// emit delivers an event to every handler registered for its name.
func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	subs := e.handlers[ev.Name]
	e.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
