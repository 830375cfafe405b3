// Package cctv implements the closed-circuit camera subsystem: camera presets,
// PTZ control and emergency recordings opened per zone.
package cctv
