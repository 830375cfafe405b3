package comms

import (
	"errors"
	"fmt"
	"slices"
)

// Radio types.
const (
	RadioVHF       = "vhf"
	RadioHF        = "hf"
	RadioSatellite = "satellite"
	RadioInternal  = "internal"
	RadioEmergency = "emergency"
)

// Radio statuses. A standby radio is available for transmission.
const (
	RadioOnline  = "online"
	RadioStandby = "standby"
	RadioOffline = "offline"
)

// Message priorities, lowest first.
const (
	PriorityRoutine  = "routine"
	PrioritySafety   = "safety"
	PriorityUrgency  = "urgency"
	PriorityDistress = "distress"
)

// DefaultShipName is used in distress messages when the layout names no vessel.
const DefaultShipName = "SHIP_NAME"

// Radio is one transceiver or beacon.
type Radio struct {
	// ID is the radio identifier, e.g. VHF_001.
	ID string `yaml:"id"`
	// Type is vhf, hf, satellite, internal or emergency.
	Type string `yaml:"type"`
	// Name is the operator label.
	Name string `yaml:"name"`
	// Location is where the set is installed.
	Location string `yaml:"location"`
	// Channel is the channel or frequency used for distress traffic.
	Channel string `yaml:"channel"`
	// Status is the initial status.
	Status string `yaml:"status"`
	// Critical radios weigh more in the score.
	Critical bool `yaml:"critical"`
	// EmergencyCapable radios carry distress calls.
	EmergencyCapable bool `yaml:"emergency_capable"`
	// BackupPower reports whether the set survives a blackout.
	BackupPower bool `yaml:"backup_power"`
}

// Route is one way of reaching a contact.
type Route struct {
	// Radio is the radio id used.
	Radio string `yaml:"radio"`
	// Channel is the channel, frequency or number dialled.
	Channel string `yaml:"channel"`
}

// Contact is an external station.
type Contact struct {
	// Name is the contact key, e.g. coast_guard.
	Name string `yaml:"name"`
	// Label is the station name.
	Label string `yaml:"label"`
	// Priority is the highest priority the station handles.
	Priority string `yaml:"priority"`
	// Routes are tried in order; the first available radio is used.
	Routes []Route `yaml:"routes"`
}

// Config is the communication section of the ship layout.
type Config struct {
	// ShipName is the vessel name used in distress traffic.
	ShipName string `yaml:"ship_name"`
	// Radios lists installed radios.
	Radios []Radio `yaml:"radios"`
	// Contacts lists external stations.
	Contacts []Contact `yaml:"contacts"`
}

var (
	errNoRadios   = errors.New("comms: no radios configured")
	errBadRadio   = errors.New("comms: invalid radio")
	errBadContact = errors.New("comms: invalid contact")
)

// Validate checks radios and contact routes and fills defaults.
func (c *Config) Validate() error {
	if len(c.Radios) == 0 {
		return errNoRadios
	}

	ids := make(map[string]struct{}, len(c.Radios))

	for i, radio := range c.Radios {
		if _, dup := ids[radio.ID]; dup || radio.ID == "" {
			return fmt.Errorf("%w: %q", errBadRadio, radio.ID)
		}

		if !slices.Contains([]string{RadioVHF, RadioHF, RadioSatellite, RadioInternal, RadioEmergency}, radio.Type) {
			return fmt.Errorf("%w: %s has type %q", errBadRadio, radio.ID, radio.Type)
		}

		switch radio.Status {
		case "":
			c.Radios[i].Status = RadioOnline
		case RadioOnline, RadioStandby, RadioOffline:
		default:
			return fmt.Errorf("%w: %s has status %q", errBadRadio, radio.ID, radio.Status)
		}

		ids[radio.ID] = struct{}{}
	}

	contacts := make(map[string]struct{}, len(c.Contacts))

	for _, contact := range c.Contacts {
		if _, dup := contacts[contact.Name]; dup || contact.Name == "" || len(contact.Routes) == 0 {
			return fmt.Errorf("%w: %q", errBadContact, contact.Name)
		}

		if !ValidPriority(contact.Priority) {
			return fmt.Errorf("%w: %s has priority %q", errBadContact, contact.Name, contact.Priority)
		}

		for _, route := range contact.Routes {
			if _, ok := ids[route.Radio]; !ok {
				return fmt.Errorf("%w: %s routes through unknown radio %s", errBadContact, contact.Name, route.Radio)
			}
		}

		contacts[contact.Name] = struct{}{}
	}

	if c.ShipName == "" {
		c.ShipName = DefaultShipName
	}

	return nil
}

// ValidPriority reports whether p is a known message priority.
func ValidPriority(p string) bool {
	return slices.Contains([]string{PriorityRoutine, PrioritySafety, PriorityUrgency, PriorityDistress}, p)
}
