// Package server implements the safety-server process.
//
// It loads the ship layout and protocol catalogue, builds the subsystem
// adapters and the coordinator, and serves the gRPC API. Alongside it runs the
// periodic compliance, health and telemetry tasks and an optional Prometheus
// endpoint. Cancelling the context drains the event queue and resets every
// subsystem before the process exits.
package server
