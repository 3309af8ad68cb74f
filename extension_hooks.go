package roadpay

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roadpay/roadpay/webhooks"
)

// HandlerPack is a named set of event handlers keyed by event type.
// Embedding applications register packs to extend the pipeline with
// their own event handling alongside the defaults.
type HandlerPack struct {
	Name     string
	Handlers map[string]webhooks.Handler
}

// CommandQueryBundleFactory builds an application-specific command or
// query bundle on top of the service surface.
type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks collects handler packs and command/query bundles
// before the pipeline starts. Registration is concurrency safe;
// packs are applied in name order so startup is deterministic.
type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks map[string]HandlerPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks: map[string]HandlerPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("roadpay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("roadpay: handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("roadpay: handler pack %q has no handlers", name)
	}

	normalized := HandlerPack{
		Name:     name,
		Handlers: make(map[string]webhooks.Handler, len(pack.Handlers)),
	}
	for eventType, handler := range pack.Handlers {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return fmt.Errorf("roadpay: handler pack %q has an empty event type", name)
		}
		if handler == nil {
			return fmt.Errorf("roadpay: handler pack %q has a nil handler for %q", name, eventType)
		}
		normalized.Handlers[eventType] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("roadpay: handler pack %q already registered", name)
	}
	h.handlerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("roadpay: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("roadpay: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("roadpay: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("roadpay: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyHandlerPacks registers every pack's handlers on the registry,
// packs in name order and event types in sorted order within a pack.
func (h *ExtensionHooks) ApplyHandlerPacks(registry *webhooks.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("roadpay: registry is required")
	}

	for _, pack := range h.HandlerPacks() {
		eventTypes := make([]string, 0, len(pack.Handlers))
		for eventType := range pack.Handlers {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)

		for _, eventType := range eventTypes {
			if err := registry.Register(eventType, pack.Handlers[eventType]); err != nil {
				return fmt.Errorf("roadpay: handler pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("roadpay: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) HandlerPacks() []HandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]HandlerPack, 0, len(names))
	for _, name := range names {
		pack := h.handlerPacks[name]
		handlers := make(map[string]webhooks.Handler, len(pack.Handlers))
		for eventType, handler := range pack.Handlers {
			handlers[eventType] = handler
		}
		out = append(out, HandlerPack{Name: pack.Name, Handlers: handlers})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
