package fleet

import (
	"fmt"
	"sync"

	"github.com/worldland/miner-fleet/internal/domain"
)

// Registry is the authoritative set of fleet members and the last
// acknowledged operation state of each. It never performs network I/O.
type Registry struct {
	mu     sync.RWMutex
	order  []string                         // Insertion order for listings
	states map[string]domain.OperationState // address -> state
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]domain.OperationState),
	}
}

// Add inserts address with the default unset/unset state.
// Returns false if the address is already a member.
func (r *Registry) Add(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.states[address]; exists {
		return false
	}
	r.states[address] = domain.DefaultOperationState()
	r.order = append(r.order, address)
	return true
}

// Remove deletes address. Returns false if it was not a member.
func (r *Registry) Remove(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.states[address]; !exists {
		return false
	}
	delete(r.states, address)
	for i, a := range r.order {
		if a == address {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns a snapshot of member addresses in insertion order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns every member with its current state, in insertion order
func (r *Registry) Snapshot() []domain.DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DeviceStatus, 0, len(r.order))
	for _, a := range r.order {
		s := r.states[a]
		out = append(out, domain.DeviceStatus{Address: a, Profile: s.Profile, Curtailment: s.Curtailment})
	}
	return out
}

// Get returns the state of address
func (r *Registry) Get(address string) (domain.OperationState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[address]
	return s, ok
}

// Contains reports whether address is a member
func (r *Registry) Contains(address string) bool {
	_, ok := r.Get(address)
	return ok
}

// Len returns the number of members
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetProfile records an acknowledged profile change
func (r *Registry) SetProfile(address string, profile domain.Profile) error {
	return r.update(address, func(s *domain.OperationState) { s.Profile = profile })
}

// SetCurtailment records an acknowledged curtailment change
func (r *Registry) SetCurtailment(address string, mode domain.Curtailment) error {
	return r.update(address, func(s *domain.OperationState) { s.Curtailment = mode })
}

func (r *Registry) update(address string, fn func(*domain.OperationState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.states[address]
	if !exists {
		return fmt.Errorf("%s: %w", address, domain.ErrNotFound)
	}
	fn(&s)
	r.states[address] = s
	return nil
}
