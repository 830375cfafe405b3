// Package telemetry records periodic subsystem health samples.
//
// Samples go to GreptimeDB when an endpoint is configured and to the log
// otherwise.
package telemetry
