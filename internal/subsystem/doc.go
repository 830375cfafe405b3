// Package subsystem holds the building blocks shared by the safety adapters:
// a single-sink event emitter, a session table with expiry timers, an
// injectable clock and scheduler, cancellable simulated I/O delays and the
// scoring helpers every performance score is built from.
package subsystem
