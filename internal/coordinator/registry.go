package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// ErrAlreadyRegistered is returned when a second adapter claims a subsystem.
var ErrAlreadyRegistered = errors.New("adapter already registered")

// Registry holds one adapter per subsystem.
type Registry struct {
	mu       sync.RWMutex
	adapters map[safety.SystemType]safety.Adapter
}

var _ safety.StatusReader = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[safety.SystemType]safety.Adapter, len(safety.Subsystems()))}
}

// Register adds an adapter.
func (r *Registry) Register(adapter safety.Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}

	system := adapter.System()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[system]; ok {
		return fmt.Errorf("%s: %w", system, ErrAlreadyRegistered)
	}

	r.adapters[system] = adapter

	return nil
}

// Get returns the adapter of a subsystem.
func (r *Registry) Get(system safety.SystemType) (safety.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[system]

	return adapter, ok
}

// All returns registered adapters in canonical subsystem order.
func (r *Registry) All() []safety.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]safety.Adapter, 0, len(r.adapters))

	for _, system := range safety.Subsystems() {
		if adapter, ok := r.adapters[system]; ok {
			adapters = append(adapters, adapter)
		}
	}

	return adapters
}

// Snapshot reads the state of every registered adapter.
func (r *Registry) Snapshot(ctx context.Context) map[safety.SystemType]*safety.SubsystemState {
	adapters := r.All()
	states := make(map[safety.SystemType]*safety.SubsystemState, len(adapters))

	for _, adapter := range adapters {
		states[adapter.System()] = adapter.Status(ctx)
	}

	return states
}
