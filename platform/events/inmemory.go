package events

import (
	"context"
	"sync"

	"crm_suite_backend/platform/logger"
)

// InMemoryBus is a process-local Bus implementation. Handlers registered
// for an event name receive every published event of that type.
// Publish runs handlers on their own goroutine; PublishSync runs them
// inline and returns the first handler error.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for the given event name.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish delivers the event to all subscribed handlers asynchronously.
// Handler errors are logged, never propagated to the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := append([]Handler(nil), b.handlers[event.EventName()]...)
	b.mu.RUnlock()

	for _, h := range subs {
		handler := h
		go func() {
			if err := handler.Handle(context.WithoutCancel(ctx), event); err != nil && b.log != nil {
				b.log.Error("event handler failed", "event", event.EventName(), "error", err)
			}
		}()
	}
}

// PublishSync delivers the event inline and returns the first handler error.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := append([]Handler(nil), b.handlers[event.EventName()]...)
	b.mu.RUnlock()

	for _, h := range subs {
		if err := h.Handle(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

var _ Bus = (*InMemoryBus)(nil)
