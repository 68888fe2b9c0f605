package gate

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the gate catalog, keyed by gate ID.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Gate
}

// NewRegistry creates an empty gate registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Gate),
	}
}

// Register adds a gate to the registry. Returns an error if the gate is
// invalid or a gate with the same ID is already registered.
func (r *Registry) Register(g *Gate) error {
	if err := g.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[g.ID]; exists {
		return fmt.Errorf("gate %q already registered", g.ID)
	}
	r.byID[g.ID] = g
	return nil
}

// Override registers g, replacing any gate with the same ID.
func (r *Registry) Override(g *Gate) error {
	if err := g.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[g.ID] = g
	return nil
}

// Lookup returns a gate by ID. Fails with ErrUnknownGate on a miss.
func (r *Registry) Lookup(id string) (*Gate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownGate, id, r.idsLocked())
	}
	return g, nil
}

// All returns all registered gates sorted by ID.
func (r *Registry) All() []*Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Gate, 0, len(r.byID))
	for _, g := range r.byID {
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Count returns the total number of registered gates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
