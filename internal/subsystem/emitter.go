package subsystem

import (
	"sync"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// Emitter delivers adapter events to at most one sink.
type Emitter struct {
	// mu protects sink.
	mu sync.RWMutex
	// sink is the registered consumer, nil until registration.
	sink safety.EventSink
}

// Register sets the sink; a second registration fails with safety.ErrSinkRegistered.
func (e *Emitter) Register(sink safety.EventSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sink != nil {
		return safety.ErrSinkRegistered
	}

	e.sink = sink

	return nil
}

// Emit passes the event to the sink, if any. Adapters call it without holding their own lock.
func (e *Emitter) Emit(event *safety.SystemEvent) {
	e.mu.RLock()
	sink := e.sink
	e.mu.RUnlock()

	if sink == nil || event == nil {
		return
	}

	sink(event)
}
