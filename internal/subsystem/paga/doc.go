// Package paga implements the public address and general alarm subsystem.
//
// Alarm signals and announcements run as timed sessions. An alarm of the same
// type over the same zones is sounded once until it expires or is silenced.
package paga
