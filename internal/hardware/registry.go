package hardware

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a fresh, unloaded Handler.
type Constructor func() Handler

// Registry maps capability names to handler constructors.
// The first registration of a name wins; later ones are rejected.
type Registry struct {
	mu       sync.RWMutex
	creators map[string]Constructor
}

// Default is the process-wide registry. Binaries that own the whole process
// may register into it; tests and embedders should build their own.
var Default = NewRegistry()

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{creators: make(map[string]Constructor)}
}

// Register adds ctor under name. It returns false if name is already taken.
func (r *Registry) Register(name string, ctor Constructor) bool {
	if name == "" || ctor == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.creators[name]; exists {
		return false
	}
	r.creators[name] = ctor
	return true
}

// Create constructs a new Handler for name with its type name bound.
func (r *Registry) Create(name string) (Handler, error) {
	r.mu.RLock()
	ctor, ok := r.creators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}

	h := ctor()
	h.SetTypeName(name)
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.creators[name]
	return ok
}

// RegisteredTypes returns every registered name in sorted order.
func (r *Registry) RegisteredTypes() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.creators))
	for name := range r.creators {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Validate returns an error naming the first capability absent from r.
func (r *Registry) Validate(names ...string) error {
	for _, name := range names {
		if !r.Has(name) {
			return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
		}
	}
	return nil
}
