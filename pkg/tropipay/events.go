package tropipay

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names an SDK lifecycle event.
type EventType string

const (
	EventAuthenticated     EventType = "auth.authenticated"
	EventTokenExpired      EventType = "auth.token_expired"
	EventLoggedOut         EventType = "auth.logged_out"
	EventTransferSimulated EventType = "transfer.simulated"
	EventTransferExecuted  EventType = "transfer.executed"
	EventTransferFailed    EventType = "transfer.failed"
)

// Event is delivered synchronously to every registered handler.
type Event struct {
	Type     EventType      `json:"type"`
	ClientID string         `json:"client_id,omitempty"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// EventHandler receives SDK events. Handlers must not block.
type EventHandler func(Event)

type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]EventHandler
	logger   *slog.Logger
}

func newEmitter(logger *slog.Logger) *emitter {
	return &emitter{handlers: map[int]EventHandler{}, logger: logger}
}

func (e *emitter) subscribe(h EventHandler) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(event Event) {
	e.mu.RLock()
	handlers := make([]EventHandler, 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		e.dispatch(h, event)
	}
}

func (e *emitter) dispatch(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "component", "tropipay_events", "event", event.Type, "panic", r)
		}
	}()
	h(event)
}
