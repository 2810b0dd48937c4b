package adapters

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/brettbedarf/tempofs"
)

// Registry maps URL schemes to source factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]tempofs.SourceFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]tempofs.SourceFactory{}}
}

// Register ties a source factory to a URL scheme, replacing any previous
// factory for it.
func (r *Registry) Register(scheme string, factory tempofs.SourceFactory) {
	r.mu.Lock()
	r.factories[strings.ToLower(scheme)] = factory
	r.mu.Unlock()
}

// Registered reports whether a factory exists for scheme.
func (r *Registry) Registered(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(scheme)]
	return ok
}

// NewSource picks the factory registered for the entry's URL scheme.
// It satisfies [tempofs.SourceFactory].
func (r *Registry) NewSource(entry *tempofs.Entry) (tempofs.Source, error) {
	u, err := url.Parse(strings.TrimSpace(entry.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", entry.URL, err)
	}
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(u.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no source registered for scheme %q", u.Scheme)
	}
	return f(entry)
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry and should be called for
// each adapter type during app init
func Register(scheme string, factory tempofs.SourceFactory) {
	defaultRegistry.Register(scheme, factory)
}

// NewSource resolves entry against the default registry.
func NewSource(entry *tempofs.Entry) (tempofs.Source, error) {
	return defaultRegistry.NewSource(entry)
}
