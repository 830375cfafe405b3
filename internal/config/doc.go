// Package config defines the settings used by the safety binaries and loads
// the static ship layout and emergency protocol catalogue.
//
// Settings are read from YAML and overridden by SHIP_SAFETY_* environment
// variables. The ship layout and catalogue fall back to built-in defaults; the
// catalogue is validated against an embedded CUE schema before it is decoded.
package config
