package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new Client instance from resolved configuration
// values (base URL, credentials, project key).
type Factory func(baseURL, username, apiToken, projectKey string) (Client, error)

// Registry manages registered tracker implementations. Implementations
// register themselves at init time; the bootstrap layer picks one by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty tracker registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a tracker factory to the global registry. The name should
// be lowercase (e.g., "jira").
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// New creates a Client for the named tracker from the global registry.
func New(name, baseURL, username, apiToken, projectKey string) (Client, error) {
	return globalRegistry.New(name, baseURL, username, apiToken, projectKey)
}

// List returns the names of all registered trackers, sorted.
func List() []string {
	return globalRegistry.List()
}

// Register adds a tracker factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New creates a Client for the named tracker.
func (r *Registry) New(name, baseURL, username, apiToken, projectKey string) (Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tracker %q (registered: %v)", name, r.List())
	}
	return factory(baseURL, username, apiToken, projectKey)
}

// List returns the names of all registered trackers, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
