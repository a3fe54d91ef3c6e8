package eventbus

import (
	"reflect"
	"sync"
)

// Handler is a function that handles an event.
type Handler func(event interface{})

// EventBus provides in-process pub/sub keyed by event type. The bootstrap
// and gateway components publish lifecycle events here; broker publishers
// subscribe and forward them out-of-process.
type EventBus struct {
	handlers map[reflect.Type][]Handler
	mu       sync.RWMutex
}

// New creates a new EventBus.
func New() *EventBus {
	return &EventBus{
		handlers: make(map[reflect.Type][]Handler),
	}
}

// Subscribe registers a handler for a specific event type.
func (e *EventBus) Subscribe(eventType interface{}, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := reflect.TypeOf(eventType)
	e.handlers[t] = append(e.handlers[t], handler)
}

// Publish publishes an event to all subscribers asynchronously.
func (e *EventBus) Publish(event interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, handler := range e.match(event) {
		go handler(event)
	}
}

// PublishSync publishes an event synchronously to all subscribers.
// Used during bootstrap, where ordering relative to the READY transition matters.
func (e *EventBus) PublishSync(event interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, handler := range e.match(event) {
		handler(event)
	}
}

// match returns handlers for the event's type, accepting both value and
// pointer registrations. Callers must hold at least a read lock.
func (e *EventBus) match(event interface{}) []Handler {
	eventType := reflect.TypeOf(event)

	handlers := append([]Handler(nil), e.handlers[eventType]...)

	if eventType.Kind() == reflect.Ptr {
		handlers = append(handlers, e.handlers[eventType.Elem()]...)
	} else {
		handlers = append(handlers, e.handlers[reflect.PtrTo(eventType)]...)
	}
	return handlers
}

// HasSubscribers returns true if there are subscribers for the event type.
func (e *EventBus) HasSubscribers(eventType interface{}) bool {
	return e.SubscriberCount(eventType) > 0
}

// SubscriberCount returns the number of subscribers for an event type.
func (e *EventBus) SubscriberCount(eventType interface{}) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t := reflect.TypeOf(eventType)
	return len(e.handlers[t])
}
