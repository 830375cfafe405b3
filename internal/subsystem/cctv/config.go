package cctv

import (
	"errors"
	"fmt"
	"time"
)

// Camera types.
const (
	TypePTZ   = "ptz"
	TypeFixed = "fixed"
)

const (
	// DefaultStorageUsage is the recorder fill level at startup, in percent.
	DefaultStorageUsage = 65.0
	// DefaultEventPreset applies to event kinds without a dedicated preset.
	DefaultEventPreset = "emergency_stop"
	// DefaultIdlePreset is restored when the last recording stops.
	DefaultIdlePreset = "normal_operations"
)

// Camera is one installed camera.
type Camera struct {
	// ID is the camera identifier, e.g. CAM001.
	ID string `yaml:"id"`
	// Name is the operator label.
	Name string `yaml:"name"`
	// Zone is the zone the camera watches.
	Zone string `yaml:"zone"`
	// Type is ptz or fixed.
	Type string `yaml:"type"`
}

// Position is a pan/tilt/zoom position.
type Position struct {
	// Pan in degrees, -180..180.
	Pan float64 `yaml:"pan"`
	// Tilt in degrees, -90..90.
	Tilt float64 `yaml:"tilt"`
	// Zoom factor, 1..10.
	Zoom float64 `yaml:"zoom"`
}

// CameraSetting is one camera's part of a preset. Nil fields keep the current value.
type CameraSetting struct {
	// View is the named camera view.
	View string `yaml:"view"`
	// Pan overrides the pan angle.
	Pan *float64 `yaml:"pan,omitempty"`
	// Tilt overrides the tilt angle.
	Tilt *float64 `yaml:"tilt,omitempty"`
	// Zoom overrides the zoom factor.
	Zoom *float64 `yaml:"zoom,omitempty"`
}

// Preset is a named camera arrangement.
type Preset struct {
	// Description explains the preset.
	Description string `yaml:"description"`
	// RecordingMode is continuous, event_based or motion_detection.
	RecordingMode string `yaml:"recording_mode"`
	// Cameras maps camera ids to settings.
	Cameras map[string]CameraSetting `yaml:"cameras"`
}

// Config is the CCTV section of the ship layout.
type Config struct {
	// Cameras lists installed cameras in display order.
	Cameras []Camera `yaml:"cameras"`
	// ZoneAliases maps zones without cameras to the zone whose cameras cover them.
	ZoneAliases map[string]string `yaml:"zone_aliases"`
	// Positions are PTZ positions used to focus on a zone.
	Positions map[string]Position `yaml:"positions"`
	// Presets are the named camera arrangements.
	Presets map[string]Preset `yaml:"presets"`
	// EventPresets maps event kinds to preset names.
	EventPresets map[string]string `yaml:"event_presets"`
	// DefaultPreset applies to unmapped event kinds.
	DefaultPreset string `yaml:"default_preset"`
	// IdlePreset is restored when recordings stop.
	IdlePreset string `yaml:"idle_preset"`
	// StorageUsage is the initial recorder fill level in percent.
	StorageUsage float64 `yaml:"storage_usage"`
	// RecordingDuration bounds emergency recordings; zero records until reset.
	RecordingDuration time.Duration `yaml:"recording_duration"`
}

var (
	errNoCameras    = errors.New("cctv: no cameras configured")
	errBadCamera    = errors.New("cctv: invalid camera")
	errUnknownAlias = errors.New("cctv: alias points to a zone without cameras")
	errBadPreset    = errors.New("cctv: invalid preset")
)

// Validate checks cross references and fills defaults.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return errNoCameras
	}

	ids := make(map[string]struct{}, len(c.Cameras))
	zones := make(map[string]struct{})

	for _, camera := range c.Cameras {
		if _, dup := ids[camera.ID]; dup || camera.ID == "" || camera.Zone == "" {
			return fmt.Errorf("%w: %q", errBadCamera, camera.ID)
		}

		if camera.Type != TypePTZ && camera.Type != TypeFixed {
			return fmt.Errorf("%w: %s has type %q", errBadCamera, camera.ID, camera.Type)
		}

		ids[camera.ID] = struct{}{}
		zones[camera.Zone] = struct{}{}
	}

	for alias, zone := range c.ZoneAliases {
		if _, ok := zones[zone]; !ok {
			return fmt.Errorf("%w: %s -> %s", errUnknownAlias, alias, zone)
		}
	}

	if c.DefaultPreset == "" {
		c.DefaultPreset = DefaultEventPreset
	}

	if c.IdlePreset == "" {
		c.IdlePreset = DefaultIdlePreset
	}

	for _, name := range []string{c.DefaultPreset, c.IdlePreset} {
		if _, ok := c.Presets[name]; !ok {
			return fmt.Errorf("%w: %q is not defined", errBadPreset, name)
		}
	}

	for kind, name := range c.EventPresets {
		if _, ok := c.Presets[name]; !ok {
			return fmt.Errorf("%w: %s -> %q is not defined", errBadPreset, kind, name)
		}
	}

	for name, preset := range c.Presets {
		for id := range preset.Cameras {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("%w: %s references unknown camera %s", errBadPreset, name, id)
			}
		}
	}

	if c.StorageUsage <= 0 {
		c.StorageUsage = DefaultStorageUsage
	}

	return nil
}
