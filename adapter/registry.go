package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
)

// Builder constructs an adapter instance from its descriptor. Each adapter
// package provides a Builder and registers it under its implementation name.
type Builder func(ctx context.Context, desc Descriptor, logger watermill.LoggerAdapter) (Instance, error)

// Registry maps implementation references to builders and their capabilities.
// It is the factory the runtime uses to instantiate declared adapters; the
// runtime itself never references a concrete adapter type.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the registry that adapter packages self-register into
// from their init functions.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty builder registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a builder under the given implementation name.
func (r *Registry) Register(impl string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[impl] = builder
}

// RegisterWithCapabilities adds a builder and its capability metadata.
func (r *Registry) RegisterWithCapabilities(impl string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[impl] = builder
	r.capabilities[impl] = caps
}

// GetCapabilities returns the capabilities for a registered implementation.
// Returns a zero Capabilities struct if the implementation is unknown.
func (r *Registry) GetCapabilities(impl string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[impl]; ok {
		return caps
	}
	return Capabilities{Name: impl}
}

// Create instantiates one adapter from its descriptor. Unknown implementation
// references and builder failures surface as AdapterCreationError.
func (r *Registry) Create(ctx context.Context, desc Descriptor, logger watermill.LoggerAdapter) (Instance, error) {
	if desc.Name == "" {
		return Instance{}, &errspkg.AdapterCreationError{Name: desc.Name, Impl: desc.Impl, Err: fmt.Errorf("descriptor name is required")}
	}

	r.mu.RLock()
	builder, ok := r.builders[desc.Impl]
	r.mu.RUnlock()

	if !ok {
		return Instance{}, &errspkg.AdapterCreationError{
			Name: desc.Name,
			Impl: desc.Impl,
			Err:  fmt.Errorf("unknown implementation (registered: %v)", r.Names()),
		}
	}

	instance, err := builder(ctx, desc, logger)
	if err != nil {
		return Instance{}, &errspkg.AdapterCreationError{Name: desc.Name, Impl: desc.Impl, Err: err}
	}
	instance.Descriptor = desc
	if !instance.Valid() {
		return Instance{}, &errspkg.AdapterCreationError{
			Name: desc.Name,
			Impl: desc.Impl,
			Err:  fmt.Errorf("builder produced an instance that does not match direction %q", desc.Direction),
		}
	}
	return instance, nil
}

// Names returns the sorted list of registered implementation names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if an implementation is registered with the given name.
func (r *Registry) Has(impl string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[impl]
	return ok
}

// Register adds a builder to the default registry.
func Register(impl string, builder Builder) {
	DefaultRegistry.Register(impl, builder)
}

// RegisterWithCapabilities adds a builder and capabilities to the default registry.
func RegisterWithCapabilities(impl string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(impl, builder, caps)
}

// GetCapabilities looks up capabilities in the default registry.
func GetCapabilities(impl string) Capabilities {
	return DefaultRegistry.GetCapabilities(impl)
}

// InstanceRegistry holds the live adapter instances keyed by name. It is the
// only place in the system holding live adapters. Mutation happens at startup
// and shutdown; steady-state traffic only reads.
type InstanceRegistry struct {
	mu        sync.RWMutex
	instances map[string]Instance
}

// NewInstanceRegistry creates an empty instance registry.
func NewInstanceRegistry() *InstanceRegistry {
	return &InstanceRegistry{instances: make(map[string]Instance)}
}

// Add registers one constructed instance. Names are unique across both
// directions so inbound and outbound namespaces stay disjoint.
func (r *InstanceRegistry) Add(instance Instance) error {
	if !instance.Valid() {
		return errspkg.ErrAdapterRequired
	}

	name := instance.Descriptor.Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[name]; exists {
		return &errspkg.DuplicateAdapterError{Name: name}
	}
	r.instances[name] = instance
	return nil
}

// Get returns the instance registered under name.
func (r *InstanceRegistry) Get(name string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[name]
	return instance, ok
}

// Outbound resolves an outbound adapter by name; used by route delivery.
func (r *InstanceRegistry) Outbound(name string) (Outbound, error) {
	instance, ok := r.Get(name)
	if !ok || instance.Outbound == nil {
		return nil, &errspkg.ResolutionError{What: "adapter", Name: name}
	}
	return instance.Outbound, nil
}

// Inbound resolves an inbound adapter by name.
func (r *InstanceRegistry) Inbound(name string) (Inbound, error) {
	instance, ok := r.Get(name)
	if !ok || instance.Inbound == nil {
		return nil, &errspkg.ResolutionError{What: "adapter", Name: name}
	}
	return instance.Inbound, nil
}

// Len returns the number of registered instances.
func (r *InstanceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Descriptors returns the registered descriptors sorted by name. Used by the
// inspector; callers get copies, never live instances.
func (r *InstanceRegistry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.instances))
	for _, instance := range r.instances {
		out = append(out, instance.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCapability returns the names of instances declaring the given capability.
func (r *InstanceRegistry) ByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, instance := range r.instances {
		for _, declared := range instance.Descriptor.Capabilities {
			if declared == capability {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// Close tears down every instance and empties the registry. Later errors do
// not stop earlier closes; all are joined.
func (r *InstanceRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, instance := range r.instances {
		if err := instance.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing adapter %q: %w", name, err))
		}
	}
	r.instances = make(map[string]Instance)
	return errors.Join(errs...)
}
