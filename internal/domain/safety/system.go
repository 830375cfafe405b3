package safety

import "strings"

// SystemType identifies a safety subsystem or the coordinator itself.
type SystemType string

const (
	// SystemEmergencyStop is the machinery emergency stop system.
	SystemEmergencyStop SystemType = "emergency_stop"
	// SystemFireDetection is the fire detection and suppression system.
	SystemFireDetection SystemType = "fire_detection"
	// SystemCCTV is the closed-circuit camera system.
	SystemCCTV SystemType = "cctv"
	// SystemPAGA is the public address and general alarm system.
	SystemPAGA SystemType = "paga"
	// SystemCommunication is the external radio communication system.
	SystemCommunication SystemType = "communication"
	// SystemCompliance is the regulatory compliance monitor.
	SystemCompliance SystemType = "compliance"
	// SystemSafetyManager is the coordinator when it is the source of an event.
	SystemSafetyManager SystemType = "safety_manager"
)

// Subsystems lists the adapter-backed systems in their canonical order.
func Subsystems() []SystemType {
	return []SystemType{
		SystemEmergencyStop,
		SystemFireDetection,
		SystemCCTV,
		SystemPAGA,
		SystemCommunication,
		SystemCompliance,
	}
}

// ParseSystemType converts a string into a known SystemType.
func ParseSystemType(s string) (SystemType, bool) {
	candidate := SystemType(strings.ToLower(strings.TrimSpace(s)))
	if candidate == SystemSafetyManager {
		return candidate, true
	}

	for _, system := range Subsystems() {
		if system == candidate {
			return system, true
		}
	}

	return "", false
}

// Status is the operational status of a zone, a device or a whole subsystem.
type Status string

const (
	// StatusNormal means nothing requires attention.
	StatusNormal Status = "normal"
	// StatusMaintenance means the unit is recovering or awaits manual action.
	StatusMaintenance Status = "maintenance"
	// StatusFault means a device failed or went offline.
	StatusFault Status = "fault"
	// StatusAlarm means an alarm condition is active.
	StatusAlarm Status = "alarm"
	// StatusEmergency means an emergency condition is active.
	StatusEmergency Status = "emergency"
)

// severity orders statuses from the least to the most urgent.
func (s Status) severity() int {
	switch s {
	case StatusEmergency:
		return 4
	case StatusAlarm:
		return 3
	case StatusFault:
		return 2
	case StatusMaintenance:
		return 1
	default:
		return 0
	}
}

// DeriveStatus computes a subsystem status from its zone or device statuses.
// The most urgent status wins, so any zone in alarm makes the subsystem alarmed.
func DeriveStatus(zones map[string]Status) Status {
	result := StatusNormal

	for _, status := range zones {
		if status.severity() > result.severity() {
			result = status
		}
	}

	return result
}

// ShipStatus is the aggregate state of the whole ship.
type ShipStatus string

const (
	// ShipNormal means no alarm is active anywhere.
	ShipNormal ShipStatus = "NORMAL"
	// ShipAlarm means a lesser alarm is being handled.
	ShipAlarm ShipStatus = "ALARM"
	// ShipEmergency means fire, emergency stop or man overboard is being handled.
	ShipEmergency ShipStatus = "EMERGENCY"
)

// Rank orders ship statuses so escalation can be compared.
func (s ShipStatus) Rank() int {
	switch s {
	case ShipEmergency:
		return 2
	case ShipAlarm:
		return 1
	default:
		return 0
	}
}
