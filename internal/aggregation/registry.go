package aggregation

import (
	"fmt"
	"slices"
	"sync"
)

// Factory builds an aggregator prototype from settings.
type Factory func(Settings) (Aggregator, error)

// Registry maps aggregator type names to their factories.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a Registry holding the built-in aggregators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeCount, newCount)
	r.Register(TypeSet, newSet)
	r.Register(TypeHLL, newHLL)
	return r
}

// Register adds a factory. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("aggregator registry: duplicate type %q", name))
	}
	r.factories[name] = f
}

// New builds an aggregator of the given type.
func (r *Registry) New(name string, s Settings) (Aggregator, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
	}
	return f(s)
}

// Types returns all registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
