package coordinator

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// ErrAlreadyProcessed is returned when an event is marked processed twice.
var ErrAlreadyProcessed = errors.New("event already processed")

// EventLog is a bounded append-only ring of events. The coordinator is the
// only writer; readers get copies.
type EventLog struct {
	mu     sync.RWMutex
	ring   []*safety.SystemEvent
	next   int
	size   int
	byID   map[string]*safety.SystemEvent
	evicts int
}

// NewEventLog creates a log keeping at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 1
	}

	return &EventLog{
		ring: make([]*safety.SystemEvent, capacity),
		byID: make(map[string]*safety.SystemEvent, capacity),
	}
}

// Append stores a copy of event, evicting the oldest entry when full.
// An event whose id is already stored is left untouched.
func (l *EventLog) Append(event *safety.SystemEvent) {
	if event == nil {
		return
	}

	stored := event.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[stored.ID]; ok {
		return
	}

	if old := l.ring[l.next]; old != nil {
		delete(l.byID, old.ID)

		l.evicts++
	}

	l.ring[l.next] = stored
	l.byID[stored.ID] = stored
	l.next = (l.next + 1) % len(l.ring)

	if l.size < len(l.ring) {
		l.size++
	}
}

// MarkProcessed records the response actions and sets processed exactly once.
func (l *EventLog) MarkProcessed(id string, actions []safety.ResponseAction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, safety.ErrNotFound)
	}

	if event.Processed {
		return fmt.Errorf("event %s: %w", id, ErrAlreadyProcessed)
	}

	event.ResponseActions = slices.Clone(actions)
	event.Processed = true

	return nil
}

// Get returns a copy of one event.
func (l *EventLog) Get(id string) (*safety.SystemEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	event, ok := l.byID[id]
	if !ok {
		return nil, false
	}

	return event.Clone(), true
}

// Since returns copies of events at or after since, newest first.
func (l *EventLog) Since(since time.Time) []*safety.SystemEvent {
	return l.collect(func(event *safety.SystemEvent) bool {
		return !event.Timestamp.Before(since)
	})
}

// Unprocessed returns copies of events still waiting for the consumer, newest first.
func (l *EventLog) Unprocessed() []*safety.SystemEvent {
	return l.collect(func(event *safety.SystemEvent) bool {
		return !event.Processed
	})
}

// Len returns the number of stored events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.size
}

// Evicted returns how many events were dropped to make room.
func (l *EventLog) Evicted() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.evicts
}

func (l *EventLog) collect(match func(*safety.SystemEvent) bool) []*safety.SystemEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []*safety.SystemEvent

	// Walk backwards from the newest entry.
	for i := range l.size {
		event := l.ring[(l.next-1-i+len(l.ring))%len(l.ring)]
		if match(event) {
			events = append(events, event.Clone())
		}
	}

	return events
}
