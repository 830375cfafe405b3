package safety

import (
	"fmt"
	"time"
)

// Escalation is the ship-wide status a protocol raises.
type Escalation string

const (
	// EscalateEmergency raises the ship to EMERGENCY.
	EscalateEmergency Escalation = "emergency"
	// EscalateAlarm raises the ship to at least ALARM.
	EscalateAlarm Escalation = "alarm"
	// EscalateNone leaves the ship status as is.
	EscalateNone Escalation = "none"
)

// Target returns the ship status the escalation requests.
func (e Escalation) Target() ShipStatus {
	switch e {
	case EscalateEmergency:
		return ShipEmergency
	case EscalateAlarm:
		return ShipAlarm
	default:
		return ShipNormal
	}
}

// Step actions understood by the coordinator.
const (
	ActionTrigger = "trigger"
	ActionReset   = "reset"
	ActionTest    = "test"
)

// Step is one adapter call inside a protocol.
type Step struct {
	// System is the adapter to call.
	System SystemType `yaml:"system"`
	// Action is trigger, reset or test.
	Action string `yaml:"action"`
	// Target may reference payload keys as {key}.
	Target string `yaml:"target"`
	// Reason may reference payload keys as {key}.
	Reason string `yaml:"reason"`
	// Params are passed to trigger; string values may reference payload keys.
	Params Payload `yaml:"params"`
	// WhenZoneIn restricts the step to events whose zone is listed.
	WhenZoneIn []string `yaml:"when_zone_in"`
}

// Protocol is a named ordered list of steps with a priority and response budget.
type Protocol struct {
	// Name is the catalogue key.
	Name string `yaml:"-"`
	// Description explains the protocol.
	Description string `yaml:"description"`
	// Priority is critical, high, medium or low.
	Priority string `yaml:"priority"`
	// ResponseTime is the nominal time budget for all steps.
	ResponseTime time.Duration `yaml:"response_time"`
	// Escalation is the ship status the protocol raises.
	Escalation Escalation `yaml:"escalation"`
	// Sweep asks the coordinator to check for ship-wide convergence afterwards.
	Sweep bool `yaml:"sweep"`
	// Steps are executed sequentially.
	Steps []Step `yaml:"steps"`
}

// Catalogue is the immutable set of protocols and the event routing table.
type Catalogue struct {
	// Protocols maps protocol names to definitions.
	Protocols map[string]*Protocol `yaml:"protocols"`
	// Routes maps event kinds to protocol names.
	Routes map[string]string `yaml:"routes"`
	// Fallback is the protocol used for unrouted kinds.
	Fallback string `yaml:"fallback"`
	// StandDown is the protocol that silences response sessions before NORMAL.
	StandDown string `yaml:"stand_down"`
}

// Lookup returns the protocol for an event kind, falling back for unknown kinds.
func (c *Catalogue) Lookup(kind string) *Protocol {
	if name, ok := c.Routes[kind]; ok {
		if protocol, ok := c.Protocols[name]; ok {
			return protocol
		}
	}

	if protocol, ok := c.Protocols[kind]; ok {
		return protocol
	}

	return c.Protocols[c.Fallback]
}

// Validate cross-checks names that a schema cannot express.
func (c *Catalogue) Validate() error {
	if _, ok := c.Protocols[c.Fallback]; !ok {
		return fmt.Errorf("fallback protocol %q: %w", c.Fallback, ErrNotFound)
	}

	if c.StandDown != "" {
		if _, ok := c.Protocols[c.StandDown]; !ok {
			return fmt.Errorf("stand-down protocol %q: %w", c.StandDown, ErrNotFound)
		}
	}

	for kind, name := range c.Routes {
		if _, ok := c.Protocols[name]; !ok {
			return fmt.Errorf("route %q -> %q: %w", kind, name, ErrNotFound)
		}
	}

	for name, protocol := range c.Protocols {
		protocol.Name = name

		for i, step := range protocol.Steps {
			if _, ok := ParseSystemType(string(step.System)); !ok || step.System == SystemSafetyManager {
				return fmt.Errorf("protocol %q step %d: unknown system %q: %w", name, i, step.System, ErrNotFound)
			}

			switch step.Action {
			case ActionTrigger, ActionReset, ActionTest:
			default:
				return fmt.Errorf("protocol %q step %d: unknown action %q: %w", name, i, step.Action, ErrNotFound)
			}
		}
	}

	return nil
}
