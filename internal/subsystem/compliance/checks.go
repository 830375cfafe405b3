package compliance

import (
	"fmt"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// CheckResult is the outcome of one requirement.
type CheckResult struct {
	// Requirement is the requirement key, e.g. vhf_radio_coverage.
	Requirement string `json:"requirement"`
	// Description explains the requirement.
	Description string `json:"description"`
	// Status is compliant, non_compliant or warning.
	Status string `json:"status"`
	// Details carries the measured values.
	Details string `json:"details"`
	// Section is the chapter, category or element of the standard.
	Section string `json:"section"`
}

// StandardResult is the outcome of checking one standard.
type StandardResult struct {
	// Standard is the checked standard.
	Standard string `json:"standard"`
	// Status is the worst check status, or pending without automated checks.
	Status string `json:"overall_status"`
	// Checks are the individual requirement outcomes.
	Checks []CheckResult `json:"check_results"`
	// CheckedAt is when the checks ran; zero when never checked.
	CheckedAt time.Time `json:"timestamp,omitzero"`
}

// snapshot is the subsystem state the checks read.
type snapshot map[safety.SystemType]*safety.SubsystemState

func (s snapshot) inventory(system safety.SystemType, key string) int {
	if state := s[system]; state != nil {
		return state.Inventory[key]
	}

	return 0
}

// checkStandard runs the automated checks of a standard.
func checkStandard(standard string, limits Thresholds, state snapshot, now time.Time) StandardResult {
	var checks []CheckResult

	switch standard {
	case StandardSOLAS:
		checks = checkSOLAS(limits, state)
	case StandardDNV:
		checks = checkDNV(limits, state)
	case StandardISM:
		checks = checkISM(limits, state)
	default:
		return StandardResult{Standard: standard, Status: StatusPending, CheckedAt: now}
	}

	return StandardResult{
		Standard:  standard,
		Status:    worst(checks),
		Checks:    checks,
		CheckedAt: now,
	}
}

func checkSOLAS(limits Thresholds, state snapshot) []CheckResult {
	fire := state[safety.SystemFireDetection]
	covered := 0

	for _, zone := range limits.FireZones {
		if fire == nil {
			break
		}

		if _, ok := fire.Zones[zone]; ok {
			covered++
		}
	}

	suppression := state.inventory(safety.SystemFireDetection, "suppression_systems")
	vhf := state.inventory(safety.SystemCommunication, "vhf_radios")
	emergency := state.inventory(safety.SystemCommunication, "emergency_capable")

	return []CheckResult{
		{
			Requirement: "fire_detection_coverage",
			Description: "Fire detection system coverage in all required areas",
			Status:      pick(covered == len(limits.FireZones), StatusNonCompliant),
			Details:     fmt.Sprintf("Coverage: %d/%d zones", covered, len(limits.FireZones)),
			Section:     "II-2",
		},
		{
			Requirement: "fire_suppression_systems",
			Description: "Adequate fire suppression systems installed",
			Status:      pick(suppression >= limits.MinSuppressionSystems, StatusWarning),
			Details:     fmt.Sprintf("Systems installed: %d", suppression),
			Section:     "II-2",
		},
		{
			Requirement: "vhf_radio_coverage",
			Description: "VHF radio communication capability",
			Status:      pick(vhf >= limits.MinVHFRadios, StatusNonCompliant),
			Details:     fmt.Sprintf("VHF radios: %d", vhf),
			Section:     "IV",
		},
		{
			Requirement: "distress_communication",
			Description: "Emergency distress communication capability",
			Status:      pick(emergency >= limits.MinEmergencyRadios, StatusWarning),
			Details:     fmt.Sprintf("Emergency capable radios: %d", emergency),
			Section:     "IV",
		},
	}
}

func checkDNV(limits Thresholds, state snapshot) []CheckResult {
	zones := state.inventory(safety.SystemEmergencyStop, "zones")
	speakers := state.inventory(safety.SystemPAGA, "speakers")

	fireAlarms := 0
	if fire := state[safety.SystemFireDetection]; fire != nil {
		fireAlarms = fire.ActiveAlarms
	}

	return []CheckResult{
		{
			Requirement: "emergency_shutdown",
			Description: "Emergency shutdown systems for all critical zones",
			Status:      pick(zones >= limits.MinStopZones, StatusWarning),
			Details:     fmt.Sprintf("Emergency stop zones: %d", zones),
			Section:     "safety_systems",
		},
		{
			Requirement: "fire_safety_systems",
			Description: "Fire safety systems operational and integrated",
			Status:      pick(fireAlarms == 0, StatusWarning),
			Details:     fmt.Sprintf("Active fire alarms: %d", fireAlarms),
			Section:     "safety_systems",
		},
		{
			Requirement: "alarm_systems",
			Description: "General alarm and public address systems",
			Status:      pick(speakers >= limits.MinSpeakers, StatusWarning),
			Details:     fmt.Sprintf("Total speakers: %d", speakers),
			Section:     "safety_systems",
		},
	}
}

func checkISM(limits Thresholds, state snapshot) []CheckResult {
	var score float64
	if estop := state[safety.SystemEmergencyStop]; estop != nil {
		score = estop.PerformanceScore
	}

	tested, total := 0, 0

	for _, system := range safety.Subsystems() {
		if system == safety.SystemCompliance {
			continue
		}

		total++

		if s := state[system]; s != nil && !s.LastTest.IsZero() {
			tested++
		}
	}

	return []CheckResult{
		{
			Requirement: "safety_policy",
			Description: "Safety and environmental protection policy implemented",
			Status:      StatusCompliant,
			Details:     "Policy documented and communicated",
			Section:     "safety_policy",
		},
		{
			Requirement: "emergency_preparedness",
			Description: "Emergency preparedness procedures and drills",
			Status:      pick(score >= limits.MinStopScore, StatusWarning),
			Details:     fmt.Sprintf("Emergency system performance: %.0f%%", score),
			Section:     "emergency_preparedness",
		},
		{
			Requirement: "maintenance",
			Description: "Maintenance of ship and equipment according to schedule",
			Status:      pick(tested >= limits.MinTestedSystems, StatusWarning),
			Details:     fmt.Sprintf("Systems with recent tests: %d/%d", tested, total),
			Section:     "maintenance",
		},
	}
}

// pick returns compliant when ok holds and the failure status otherwise.
func pick(ok bool, failure string) string {
	if ok {
		return StatusCompliant
	}

	return failure
}

// worst folds check statuses: non_compliant beats warning beats compliant.
func worst(checks []CheckResult) string {
	result := StatusCompliant

	for _, check := range checks {
		switch check.Status {
		case StatusNonCompliant:
			return StatusNonCompliant
		case StatusWarning:
			result = StatusWarning
		}
	}

	return result
}
