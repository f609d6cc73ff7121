package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to adapters. It is safe for concurrent use
// and can be swapped wholesale when the providers file reloads.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Register adds an adapter. Registering a name twice is an error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("provider already registered: %s", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Replace swaps the full adapter set.
func (r *Registry) Replace(adapters []Adapter) {
	next := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		next[a.Name()] = a
	}

	r.mu.Lock()
	r.adapters = next
	r.mu.Unlock()
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
