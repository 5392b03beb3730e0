package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RefreshFunc refreshes one kind, serving from cache when force is false and
// the cache is fresh.
type RefreshFunc func(ctx context.Context, force bool) (Report, error)

// Registry maps kind names to their refresh routines.
// It is not safe for concurrent registration; the manager fills it at construction.
type Registry struct {
	kinds map[string]RefreshFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]RefreshFunc)}
}

// Register adds a named refresh routine. Overwrites if name already exists.
// Panics if name is empty or fn is nil (programmer error).
func (r *Registry) Register(name string, fn RefreshFunc) {
	if name == "" {
		panic("inventory: Register called with empty name")
	}
	if fn == nil {
		panic("inventory: Register called with nil refresh func")
	}
	r.kinds[name] = fn
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.kinds[name]
	return ok
}

// Refresh runs the routine registered under name.
func (r *Registry) Refresh(ctx context.Context, name string, force bool) (Report, error) {
	fn, ok := r.kinds[name]
	if !ok {
		err := &UnknownKindError{Name: name, Available: r.Kinds()}
		return Report{Kind: name, Outcome: OutcomeMissing, Err: err}, err
	}
	return fn(ctx, force)
}

// Kinds returns registered kind names in sorted order.
func (r *Registry) Kinds() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownKindError indicates a kind name is not registered.
type UnknownKindError struct {
	Name      string
	Available []string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown kind %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}
