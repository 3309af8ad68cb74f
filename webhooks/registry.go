package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler reacts to a single event type. The returned map carries the
// handler's outcome and is persisted on the processed-event record.
type Handler interface {
	Handle(ctx context.Context, event Event) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, event Event) (map[string]any, error) {
	return f(ctx, event)
}

// Registry maps event types to the handlers subscribed to them. An
// event type may carry multiple handlers and they run in registration
// order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]Handler{}}
}

// Register subscribes handler to eventType. Registrations are
// append-only, a handler cannot be removed once routed.
func (r *Registry) Register(eventType string, handler Handler) error {
	if r == nil {
		return fmt.Errorf("webhooks: registry is not configured")
	}

	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return fmt.Errorf("webhooks: event type is required")
	}

	if handler == nil {
		return fmt.Errorf("webhooks: handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[eventType] = append(r.handlers[eventType], handler)

	return nil
}

// Lookup returns the handlers subscribed to eventType in registration
// order, or nil when the type is unhandled.
func (r *Registry) Lookup(eventType string) []Handler {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := r.handlers[strings.TrimSpace(eventType)]
	if len(registered) == 0 {
		return nil
	}

	return append([]Handler(nil), registered...)
}

// EventTypes returns the sorted set of event types with at least one
// registered handler.
func (r *Registry) EventTypes() []string {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}

	sort.Strings(types)

	return types
}
