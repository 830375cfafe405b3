// Package coordinator runs the ship-wide safety state machine.
//
// Adapters push events into a FIFO queue; a single consumer looks up the
// protocol for each event, drives the protocol steps against the adapters,
// records the outcome in the event log and moves the ship status between
// NORMAL, ALARM and EMERGENCY. The command surface used by the transport
// layer lives here as well.
package coordinator
