// Package registry maps backend type tags to connector constructors.
// Connector packages register themselves in init(), so importing a backend
// package is all it takes to make its kind constructible.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/connector/core"
	"github.com/hebaghazali/portl/pkg/errors"
)

// SourceFactory constructs a source connector from an endpoint config.
// Constructors must not perform I/O; all I/O belongs in Connect.
type SourceFactory func(endpoint *config.Endpoint) (core.Source, error)

// DestinationFactory constructs a destination connector from an endpoint config
type DestinationFactory func(endpoint *config.Endpoint) (core.Destination, error)

// Registry holds connector factories keyed by backend kind
type Registry struct {
	mu           sync.RWMutex
	sources      map[config.Kind]SourceFactory
	destinations map[config.Kind]DestinationFactory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[config.Kind]SourceFactory),
		destinations: make(map[config.Kind]DestinationFactory),
	}
}

// defaultRegistry is the process-wide registry used by the package-level
// functions below
var defaultRegistry = NewRegistry()

// RegisterSource registers a source factory for a backend kind
func (r *Registry) RegisterSource(kind config.Kind, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = factory
}

// RegisterDestination registers a destination factory for a backend kind
func (r *Registry) RegisterDestination(kind config.Kind, factory DestinationFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[kind] = factory
}

// CreateSource constructs a source connector for the endpoint's kind
func (r *Registry) CreateSource(endpoint *config.Endpoint) (core.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[endpoint.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"unsupported source type %q, registered types: %s",
			endpoint.Type, r.registeredSources()).
			WithDetail("type", string(endpoint.Type))
	}
	return factory(endpoint)
}

// CreateDestination constructs a destination connector for the endpoint's kind
func (r *Registry) CreateDestination(endpoint *config.Endpoint) (core.Destination, error) {
	r.mu.RLock()
	factory, ok := r.destinations[endpoint.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"unsupported destination type %q, registered types: %s",
			endpoint.Type, r.registeredDestinations()).
			WithDetail("type", string(endpoint.Type))
	}
	return factory(endpoint)
}

// HasSource reports whether a source factory is registered for kind
func (r *Registry) HasSource(kind config.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[kind]
	return ok
}

// HasDestination reports whether a destination factory is registered for kind
func (r *Registry) HasDestination(kind config.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.destinations[kind]
	return ok
}

// ListSources returns registered source kinds, sorted
func (r *Registry) ListSources() []config.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKinds(r.sources)
}

// ListDestinations returns registered destination kinds, sorted
func (r *Registry) ListDestinations() []config.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKinds(r.destinations)
}

func (r *Registry) registeredSources() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return joinKinds(sortedKinds(r.sources))
}

func (r *Registry) registeredDestinations() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return joinKinds(sortedKinds(r.destinations))
}

func sortedKinds[V any](m map[config.Kind]V) []config.Kind {
	kinds := make([]config.Kind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func joinKinds(kinds []config.Kind) string {
	if len(kinds) == 0 {
		return "(none)"
	}
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// RegisterSource registers a source factory in the default registry
func RegisterSource(kind config.Kind, factory SourceFactory) {
	defaultRegistry.RegisterSource(kind, factory)
}

// RegisterDestination registers a destination factory in the default registry
func RegisterDestination(kind config.Kind, factory DestinationFactory) {
	defaultRegistry.RegisterDestination(kind, factory)
}

// CreateSource constructs a source connector using the default registry
func CreateSource(endpoint *config.Endpoint) (core.Source, error) {
	return defaultRegistry.CreateSource(endpoint)
}

// CreateDestination constructs a destination connector using the default registry
func CreateDestination(endpoint *config.Endpoint) (core.Destination, error) {
	return defaultRegistry.CreateDestination(endpoint)
}

// ListSources returns the default registry's source kinds
func ListSources() []config.Kind {
	return defaultRegistry.ListSources()
}

// ListDestinations returns the default registry's destination kinds
func ListDestinations() []config.Kind {
	return defaultRegistry.ListDestinations()
}
