package platform

import (
	"context"
	"fmt"
	"sync"
)

// Factory builds an adapter for one run with that source's cookie string.
type Factory func(ctx context.Context, deps Deps, cookies string) (Adapter, error)

type Registration struct {
	Name string
	URL  string
	New  Factory
}

// Registry keeps adapters in registration order, which is also run order.
type Registry struct {
	mu      sync.RWMutex
	entries []Registration
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds or replaces the adapter called name.
func (r *Registry) Register(name, url string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.Name == name {
			r.entries[i] = Registration{Name: name, URL: url, New: f}
			return
		}
	}
	r.entries = append(r.entries, Registration{Name: name, URL: url, New: f})
}

func (r *Registry) Get(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Registration{}, fmt.Errorf("source %q not registered", name)
}

func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registration(nil), r.entries...)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

var defaultRegistry = NewRegistry()

// Default is the process-wide registry the CLI populates.
func Default() *Registry { return defaultRegistry }

func Register(name, url string, f Factory) { defaultRegistry.Register(name, url, f) }

func Get(name string) (Registration, error) { return defaultRegistry.Get(name) }

func List() []string { return defaultRegistry.Names() }
