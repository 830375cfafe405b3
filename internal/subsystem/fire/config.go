package fire

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultOccupiedDelay gives personnel time to leave before discharge.
	DefaultOccupiedDelay = 60 * time.Second
	// DefaultUnoccupiedDelay is the discharge delay for empty zones.
	DefaultUnoccupiedDelay = 10 * time.Second
	// DefaultRechargeTime is how long a discharged system takes to become ready.
	DefaultRechargeTime = 300 * time.Second
)

// Detector is one fire detector.
type Detector struct {
	// ID is the detector identifier, e.g. FD-ER-001.
	ID string `yaml:"id"`
	// Type is smoke, heat, flame, gas or multi_sensor.
	Type string `yaml:"type"`
	// Threshold is the alarm threshold in the detector's unit.
	Threshold float64 `yaml:"threshold"`
}

// Suppression is the fixed extinguishing system of a zone.
type Suppression struct {
	// Type is the agent (CO2, Foam, Sprinkler, ...).
	Type string `yaml:"type"`
	// DischargeTime is how long the discharge lasts.
	DischargeTime time.Duration `yaml:"discharge_time"`
	// Pressure is the nominal pressure in bar.
	Pressure float64 `yaml:"pressure"`
	// Capacity is the agent capacity in kg or litres.
	Capacity float64 `yaml:"capacity"`
}

// Zone is one fire zone.
type Zone struct {
	// Name is the zone identifier.
	Name string `yaml:"name"`
	// Priority is critical, high or medium.
	Priority string `yaml:"priority"`
	// EvacuationTime is the expected time to clear the zone.
	EvacuationTime time.Duration `yaml:"evacuation_time"`
	// Personnel is the usual head count; occupied zones get a longer discharge delay.
	Personnel int `yaml:"personnel"`
	// Detectors lists the zone's detectors.
	Detectors []Detector `yaml:"detectors"`
	// Suppression is the zone's extinguishing system.
	Suppression Suppression `yaml:"suppression"`
}

// Config is the fire detection section of the ship layout.
type Config struct {
	// Zones lists fire zones in display order.
	Zones []Zone `yaml:"zones"`
	// OccupiedDelay is the discharge delay when personnel are present.
	OccupiedDelay time.Duration `yaml:"occupied_delay"`
	// UnoccupiedDelay is the discharge delay for empty zones.
	UnoccupiedDelay time.Duration `yaml:"unoccupied_delay"`
	// RechargeTime is the time a discharged system needs to become ready again.
	RechargeTime time.Duration `yaml:"recharge_time"`
}

var (
	errNoZones        = errors.New("fire detection: no zones configured")
	errDuplicateZone  = errors.New("fire detection: duplicate zone")
	errDuplicateProbe = errors.New("fire detection: duplicate detector")
)

// Validate checks identifiers and fills defaults.
func (c *Config) Validate() error {
	if len(c.Zones) == 0 {
		return errNoZones
	}

	zones := make(map[string]struct{}, len(c.Zones))
	detectors := make(map[string]struct{})

	for _, zone := range c.Zones {
		if _, ok := zones[zone.Name]; ok || zone.Name == "" {
			return fmt.Errorf("%w: %q", errDuplicateZone, zone.Name)
		}

		zones[zone.Name] = struct{}{}

		for _, detector := range zone.Detectors {
			if _, ok := detectors[detector.ID]; ok || detector.ID == "" {
				return fmt.Errorf("%w: %q", errDuplicateProbe, detector.ID)
			}

			detectors[detector.ID] = struct{}{}
		}
	}

	if c.OccupiedDelay <= 0 {
		c.OccupiedDelay = DefaultOccupiedDelay
	}

	if c.UnoccupiedDelay <= 0 {
		c.UnoccupiedDelay = DefaultUnoccupiedDelay
	}

	if c.RechargeTime <= 0 {
		c.RechargeTime = DefaultRechargeTime
	}

	return nil
}
