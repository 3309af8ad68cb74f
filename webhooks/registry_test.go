package webhooks

import (
	"context"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	first := HandlerFunc(func(ctx context.Context, event Event) (map[string]any, error) {
		return map[string]any{"order": 1}, nil
	})
	second := HandlerFunc(func(ctx context.Context, event Event) (map[string]any, error) {
		return map[string]any{"order": 2}, nil
	})

	if err := registry.Register(EventInvoicePaid, first); err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}
	if err := registry.Register(EventInvoicePaid, second); err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	handlers := registry.Lookup(EventInvoicePaid)
	if len(handlers) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(handlers))
	}

	result, err := handlers[0].Handle(context.Background(), Event{})
	if err != nil || result["order"] != 1 {
		t.Fatalf("expected registration order to be preserved, got %v %v", result, err)
	}
}

func TestRegistryLookupUnknownType(t *testing.T) {
	registry := NewRegistry()

	if handlers := registry.Lookup(EventDisputeCreated); handlers != nil {
		t.Fatalf("expected nil for unregistered type, got %v", handlers)
	}
}

func TestRegistryRejectsBadInput(t *testing.T) {
	registry := NewRegistry()

	handler := HandlerFunc(func(ctx context.Context, event Event) (map[string]any, error) {
		return nil, nil
	})

	if err := registry.Register("", handler); err == nil {
		t.Fatalf("expected empty event type to be rejected")
	}
	if err := registry.Register(EventInvoicePaid, nil); err == nil {
		t.Fatalf("expected nil handler to be rejected")
	}
}

func TestRegistryEventTypes(t *testing.T) {
	registry := NewRegistry()

	handler := HandlerFunc(func(ctx context.Context, event Event) (map[string]any, error) {
		return nil, nil
	})

	for _, eventType := range []string{EventInvoicePaid, EventCheckoutCompleted, EventDisputeCreated} {
		if err := registry.Register(eventType, handler); err != nil {
			t.Fatalf("expected registration to succeed, got %v", err)
		}
	}

	types := registry.EventTypes()
	if len(types) != 3 {
		t.Fatalf("expected 3 types, got %d", len(types))
	}
	for i := 1; i < len(types); i++ {
		if types[i] < types[i-1] {
			t.Fatalf("expected sorted types, got %v", types)
		}
	}
}
