// Package health aggregates subsystem performance scores into the ship's
// overall health and exports them as Prometheus gauges.
//
// Environmental conditions come from an EnvironmentSource. When the source is
// unavailable no penalty is applied, so health never depends on optional data.
package health
