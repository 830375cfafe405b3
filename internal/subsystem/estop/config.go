package estop

import (
	"errors"
	"fmt"
	"time"
)

// Machine statuses.
const (
	// MachineRunning is normal operation.
	MachineRunning = "running"
	// MachineStandby is idle but available; emergency stops leave it alone.
	MachineStandby = "standby"
	// MachineEmergencyStop is held down by an active emergency stop.
	MachineEmergencyStop = "emergency_stop"
	// MachineStopped is critical machinery awaiting a manual restart.
	MachineStopped = "stopped"
)

const (
	// DefaultTestResponseTime is the simulated stop circuit response.
	DefaultTestResponseTime = 150 * time.Millisecond
	// DefaultTestResponseLimit is the slowest acceptable stop circuit response.
	DefaultTestResponseLimit = 500 * time.Millisecond
)

// Machine is one piece of machinery wired to a stop circuit.
type Machine struct {
	// Name identifies the machine inside its zone.
	Name string `yaml:"name"`
	// Critical machinery is never restarted automatically after a stop.
	Critical bool `yaml:"critical"`
	// Status is the initial status, running or standby.
	Status string `yaml:"status"`
}

// Zone groups machinery behind one stop circuit.
type Zone struct {
	// Name is the zone identifier.
	Name string `yaml:"name"`
	// Machinery lists the machines stopped together.
	Machinery []Machine `yaml:"machinery"`
}

// Contact is an emergency contact listed with the procedures.
type Contact struct {
	// Role is who to call.
	Role string `yaml:"role" json:"role"`
	// Location is where the role is stationed.
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	// Frequency is the radio channel for external contacts.
	Frequency string `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	// Priority orders contacts, 1 first.
	Priority int `yaml:"priority" json:"priority"`
}

// Config is the emergency stop section of the ship layout.
type Config struct {
	// Zones lists stop circuits in display order.
	Zones []Zone `yaml:"zones"`
	// TestResponseTime is the simulated stop circuit response during self-tests.
	TestResponseTime time.Duration `yaml:"test_response_time"`
	// TestResponseLimit is the slowest passing response.
	TestResponseLimit time.Duration `yaml:"test_response_limit"`
	// Procedures maps emergency names to ordered instructions.
	Procedures map[string][]string `yaml:"procedures"`
	// Contacts lists who to call during an emergency.
	Contacts []Contact `yaml:"contacts"`
}

var (
	errNoZones       = errors.New("emergency stop: no zones configured")
	errDuplicateZone = errors.New("emergency stop: duplicate zone")
	errBadMachine    = errors.New("emergency stop: invalid machine")
)

// Validate checks the layout and fills defaults.
func (c *Config) Validate() error {
	if len(c.Zones) == 0 {
		return errNoZones
	}

	seen := make(map[string]struct{}, len(c.Zones))

	for _, zone := range c.Zones {
		if _, ok := seen[zone.Name]; ok || zone.Name == "" {
			return fmt.Errorf("%w: %q", errDuplicateZone, zone.Name)
		}

		seen[zone.Name] = struct{}{}

		for _, machine := range zone.Machinery {
			switch {
			case machine.Name == "":
				return fmt.Errorf("%w: unnamed machine in %s", errBadMachine, zone.Name)
			case machine.Status != MachineRunning && machine.Status != MachineStandby:
				return fmt.Errorf("%w: %s/%s has status %q", errBadMachine, zone.Name, machine.Name, machine.Status)
			}
		}
	}

	if c.TestResponseTime <= 0 {
		c.TestResponseTime = DefaultTestResponseTime
	}

	if c.TestResponseLimit <= 0 {
		c.TestResponseLimit = DefaultTestResponseLimit
	}

	return nil
}
