// Package comms implements the external communication subsystem.
//
// Distress calls are broadcast on every available emergency-capable radio and
// stay active until cancelled. Safety messages reach each contact through the
// first of its routes whose radio is not offline.
package comms
