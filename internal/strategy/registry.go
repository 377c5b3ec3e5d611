package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages a named collection of signal generators that can be looked
// up at runtime. It is safe for concurrent use.
type Registry struct {
	strategies map[string]SignalGenerator
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]SignalGenerator),
	}
}

// Register adds a strategy under its Name. A strategy with the same name is
// replaced.
func (r *Registry) Register(s SignalGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (SignalGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select resolves names in order. An empty list selects every registered
// strategy, sorted by name, so the polling order is stable across runs.
func (r *Registry) Select(names []string) ([]SignalGenerator, error) {
	if len(names) == 0 {
		names = r.List()
	}
	out := make([]SignalGenerator, 0, len(names))
	for _, n := range names {
		s, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
