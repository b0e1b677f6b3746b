package collector

import (
	"fmt"
	"sync"
)

// Factory constructs a collector. Construction may fail, e.g. on missing
// credentials.
type Factory func() (Collector, error)

// Registry manages collector construction by provider name. Collectors are
// built lazily on first use and memoized for the registry's lifetime,
// including construction failures, so a known-broken collector is not
// reconstructed on every call.
type Registry struct {
	mu         sync.Mutex
	order      []string
	factories  map[string]Factory
	collectors map[string]Collector
	failures   map[string]error
}

// NewRegistry creates an empty collector registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:  make(map[string]Factory),
		collectors: make(map[string]Collector),
		failures:   make(map[string]error),
	}
}

// Register adds a collector factory under the given provider name. A later
// registration for the same name replaces the earlier one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = factory
}

// Known reports whether a factory is registered under name.
func (r *Registry) Known(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.factories[name]
	return ok
}

// Names returns registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Get returns the collector for name, constructing it on first use. A
// construction failure is cached and returned unchanged on subsequent calls.
func (r *Registry) Get(name string) (Collector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.collectors[name]; ok {
		return c, nil
	}
	if err, ok := r.failures[name]; ok {
		return nil, err
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	c, err := factory()
	if err != nil {
		err = fmt.Errorf("construct %s collector: %w", name, err)
		r.failures[name] = err
		return nil, err
	}
	r.collectors[name] = c
	return c, nil
}
