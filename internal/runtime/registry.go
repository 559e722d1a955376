package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Constructor builds an object of one kind and attaches it to rt under objectID.
type Constructor func(ctx context.Context, rt *Runtime, objectID string) (any, error)

// Registry maps object kinds to their constructors. Each Runtime is given its own
// registry so independent sessions in one process do not share state.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Constructor)}
}

// Register adds a constructor for kind.
func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" {
		return fmt.Errorf("kind cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("constructor for %q cannot be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kinds[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	r.kinds[kind] = ctor
	return nil
}

// Lookup returns the constructor for kind.
func (r *Registry) Lookup(kind string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.kinds[kind]
	return ctor, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
