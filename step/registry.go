package step

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry keeps steps in registration order. Steps are registered at
// startup and never mutated afterwards.
type Registry struct {
	mu      sync.RWMutex
	steps   Steps
	keys    map[Key]struct{}
	modules []string
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[Key]struct{})}
}

func (r *Registry) Register(steps ...*Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range steps {
		if s == nil || s.Func == nil {
			return ErrMissingFunc
		}

		if _, exists := r.keys[s.Key]; exists {
			return errors.Wrapf(ErrDuplicateStep, "%s", s.Key)
		}

		r.keys[s.Key] = struct{}{}
		r.steps = append(r.steps, s)

		if !contains(r.modules, s.Key.Module) {
			r.modules = append(r.modules, s.Key.Module)
		}
	}

	return nil
}

func (r *Registry) MustRegister(steps ...*Step) {
	if err := r.Register(steps...); err != nil {
		panic(err)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Modules returns module names in the order they were first registered
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.modules))
	copy(result, r.modules)
	return result
}

// Select returns the steps of the phase for the given modules. Modules are
// visited in the given order, or in registration order when none are given,
// and steps of one module are ordered by ascending target version.
func (r *Registry) Select(phase Phase, modules ...string) Steps {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(modules) == 0 {
		modules = r.modules
	}

	var result Steps
	for _, module := range modules {
		var moduleSteps Steps
		for _, s := range r.steps {
			if s.Key.Module == module && s.Key.Phase == phase {
				moduleSteps = append(moduleSteps, s)
			}
		}

		sort.SliceStable(moduleSteps, func(i, j int) bool {
			return compareVersions(moduleSteps[i].Key.To, moduleSteps[j].Key.To) < 0
		})

		result = append(result, moduleSteps...)
	}

	return result
}

func contains(haystack []string, needle string) bool {
	for i := range haystack {
		if haystack[i] == needle {
			return true
		}
	}
	return false
}
