package safety

import "context"

// EventSink receives events emitted by an adapter.
type EventSink func(event *SystemEvent)

// Adapter is the contract every subsystem adapter implements.
// The coordinator depends on nothing else from a subsystem.
type Adapter interface {
	// System identifies the adapter.
	System() SystemType
	// RegisterEventSink sets the single consumer of emitted events.
	RegisterEventSink(sink EventSink) error
	// Trigger moves zones or devices into an active state; idempotent per zone.
	Trigger(ctx context.Context, req TriggerRequest) (*Result, error)
	// Reset clears active states for the target.
	Reset(ctx context.Context, target string) (*Result, error)
	// Test runs a synthetic self-check over every managed device.
	Test(ctx context.Context) *TestReport
	// Status returns a snapshot without side effects.
	Status(ctx context.Context) *SubsystemState
}

// StatusReader exposes read-only snapshots of every subsystem.
type StatusReader interface {
	// Snapshot returns the current state of every registered subsystem.
	Snapshot(ctx context.Context) map[SystemType]*SubsystemState
}
