package tool

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
)

var (
	// ErrDuplicateName is returned when a tool name is registered twice
	ErrDuplicateName = errors.New("duplicate tool name")
	// ErrSchemaMismatch is returned when a callable and its descriptor disagree
	ErrSchemaMismatch = errors.New("tool schema mismatch")
	// ErrUnknownTool is returned when resolving a name that was never registered
	ErrUnknownTool = errors.New("unknown tool")
)

type entry struct {
	descriptor Descriptor
	callable   Callable
}

// Registry maps tool names to descriptors and callables. It is filled once at
// startup and only read afterwards; reads are safe from many sessions.
type Registry struct {
	tools map[string]entry
	order []string
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]entry),
	}
}

// Register adds a tool. On error the registry is left untouched.
func (r *Registry) Register(d Descriptor, c Callable) error {
	if err := validate(d, c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("tool %s: %w", d.Name, ErrDuplicateName)
	}

	r.tools[d.Name] = entry{descriptor: d.clone(), callable: c}
	r.order = append(r.order, d.Name)
	return nil
}

func validate(d Descriptor, c Callable) error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has no name: %w", ErrSchemaMismatch)
	}
	if c == nil {
		return fmt.Errorf("tool %s: nil callable: %w", d.Name, ErrSchemaMismatch)
	}

	declared := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %s: unnamed parameter: %w", d.Name, ErrSchemaMismatch)
		}
		if declared[p.Name] {
			return fmt.Errorf("tool %s: parameter %s declared twice: %w", d.Name, p.Name, ErrSchemaMismatch)
		}
		declared[p.Name] = true
	}

	for _, name := range c.Required() {
		if !declared[name] {
			return fmt.Errorf("tool %s: callable requires undeclared parameter %s: %w", d.Name, name, ErrSchemaMismatch)
		}
	}

	return nil
}

// Resolve returns the descriptor and callable registered under name
func (r *Registry) Resolve(name string) (Descriptor, Callable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.tools[name]
	if !exists {
		return Descriptor{}, nil, fmt.Errorf("tool %s: %w", name, ErrUnknownTool)
	}

	return e.descriptor.clone(), e.callable, nil
}

// DescribeAll yields every descriptor in registration order. The sequence
// can be ranged over any number of times.
func (r *Registry) DescribeAll() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		for _, name := range r.Names() {
			d, _, err := r.Resolve(name)
			if err != nil {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
