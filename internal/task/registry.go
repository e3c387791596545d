package task

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a task instance from caller-supplied parameters.
type Factory func(params map[string]any) (Task, error)

// Registry maps task type names to factories and resolves which one to use
// for a submitted command.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given type name, replacing any previous
// registration for that name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs a task of the given type from params. Returns an error
// when the type is not registered or the factory refuses the parameters.
func (r *Registry) Build(name string, params map[string]any) (Task, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task type %q is not registered", name)
	}
	return f(params)
}

// Types returns all registered type names, sorted for a stable API response.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
