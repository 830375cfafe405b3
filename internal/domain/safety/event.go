package safety

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Payload carries event or result attributes keyed by name.
type Payload map[string]any

// Clone returns a deep copy of nested maps and slices.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}

	cloned := make(Payload, len(p))
	for key, value := range p {
		cloned[key] = cloneValue(value)
	}

	return cloned
}

// String returns the value under key when it is a non-empty string.
func (p Payload) String(key string) (string, bool) {
	value, ok := p[key].(string)
	if !ok || value == "" {
		return "", false
	}

	return value, true
}

// cloneValue copies the container types payloads are built from.
func cloneValue(value any) any {
	switch typed := value.(type) {
	case Payload:
		return typed.Clone()
	case map[string]any:
		return map[string]any(Payload(typed).Clone())
	case []any:
		cloned := make([]any, len(typed))
		for i, item := range typed {
			cloned[i] = cloneValue(item)
		}

		return cloned
	case []string:
		return append([]string(nil), typed...)
	case map[string]float64:
		return maps.Clone(typed)
	default:
		return value
	}
}

// ResponseAction records the outcome of one protocol step.
type ResponseAction struct {
	// Step is the zero-based position of the step inside its protocol.
	Step int `json:"step"`
	// System is the adapter the step was executed against.
	System SystemType `json:"system"`
	// Action is the adapter operation (trigger, reset or test).
	Action string `json:"action"`
	// Target is the resolved step target.
	Target string `json:"target,omitempty"`
	// Success reports whether the adapter call succeeded.
	Success bool `json:"success"`
	// Message is the adapter's human-readable outcome.
	Message string `json:"message,omitempty"`
	// Error holds the failure description for unsuccessful steps.
	Error string `json:"error,omitempty"`
	// Details carries adapter result attributes (session ids, positions, ...).
	Details Payload `json:"details,omitempty"`
}

// String renders the action as a single audit line.
func (a ResponseAction) String() string {
	if !a.Success {
		return fmt.Sprintf("%s %s %s failed: %s", a.System, a.Action, a.Target, a.Error)
	}

	if a.Message != "" {
		return fmt.Sprintf("%s %s %s: %s", a.System, a.Action, a.Target, a.Message)
	}

	return fmt.Sprintf("%s %s %s", a.System, a.Action, a.Target)
}

// SystemEvent is a state transition worth coordinating.
type SystemEvent struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`
	// Source is the system that emitted the event.
	Source SystemType `json:"source_system"`
	// Kind selects the emergency protocol (fire_alarm, emergency_stop, ...).
	Kind string `json:"event_type"`
	// Payload carries kind-specific attributes such as zone or position.
	Payload Payload `json:"payload,omitempty"`
	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`
	// Processed is set once the coordinator finished the protocol.
	Processed bool `json:"processed"`
	// ResponseActions are the protocol step outcomes, filled exactly once.
	ResponseActions []ResponseAction `json:"response_actions,omitempty"`
}

// NewEvent creates an event with a fresh identifier.
func NewEvent(source SystemType, kind string, payload Payload, timestamp time.Time) *SystemEvent {
	if payload == nil {
		payload = Payload{}
	}

	return &SystemEvent{
		ID:        uuid.NewString(),
		Source:    source,
		Kind:      kind,
		Payload:   payload,
		Timestamp: timestamp,
	}
}

// Clone returns a deep copy of the event.
func (e *SystemEvent) Clone() *SystemEvent {
	if e == nil {
		return nil
	}

	cloned := *e
	cloned.Payload = e.Payload.Clone()

	if e.ResponseActions != nil {
		cloned.ResponseActions = make([]ResponseAction, len(e.ResponseActions))
		for i, action := range e.ResponseActions {
			action.Details = action.Details.Clone()
			cloned.ResponseActions[i] = action
		}
	}

	return &cloned
}

// Notification is pushed to observers for every processed event.
type Notification struct {
	// EventID is the processed event identifier.
	EventID string `json:"event_id"`
	// Source is the system that emitted the event.
	Source SystemType `json:"source_system"`
	// Kind is the event type.
	Kind string `json:"event_type"`
	// Timestamp is the event creation time.
	Timestamp time.Time `json:"timestamp"`
	// Processed mirrors the event flag at notification time.
	Processed bool `json:"processed"`
	// ShipStatus is the ship-wide status after processing.
	ShipStatus ShipStatus `json:"ship_status"`
}

// NotificationFor builds the observer notification for a processed event.
func NotificationFor(event *SystemEvent, status ShipStatus) Notification {
	return Notification{
		EventID:    event.ID,
		Source:     event.Source,
		Kind:       event.Kind,
		Timestamp:  event.Timestamp,
		Processed:  event.Processed,
		ShipStatus: status,
	}
}
