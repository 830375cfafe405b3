package safety

import (
	"maps"
	"time"
)

// SubsystemState is the read-only view an adapter reports about itself.
type SubsystemState struct {
	// System identifies the adapter.
	System SystemType `json:"system_type"`
	// Status is derived from Zones.
	Status Status `json:"status"`
	// Zones maps zone or device identifiers to their status.
	Zones map[string]Status `json:"zones"`
	// ActiveAlarms counts originating alarm conditions (stops, fires, distress calls).
	ActiveAlarms int `json:"active_alarms"`
	// ActiveSessions counts running timed sessions.
	ActiveSessions int `json:"active_sessions"`
	// FaultyDevices counts faulty or offline devices.
	FaultyDevices int `json:"faulty_devices"`
	// Inventory counts equipment by category for compliance checks.
	Inventory map[string]int `json:"inventory,omitempty"`
	// Sessions lists active sessions.
	Sessions []*Session `json:"sessions,omitempty"`
	// LastTest is the time of the last self-test; zero means never tested.
	LastTest time.Time `json:"last_test,omitzero"`
	// PerformanceScore is the adapter's own 0..100 score.
	PerformanceScore float64 `json:"performance_score"`
	// Details carries adapter-specific state (machinery, cameras, ...).
	Details Payload `json:"details,omitempty"`
	// UpdatedAt is when the view was taken.
	UpdatedAt time.Time `json:"updated_at"`
}

// Quiet reports whether the subsystem has neither alarms nor sessions.
func (s *SubsystemState) Quiet() bool {
	return s.ActiveAlarms == 0 && s.ActiveSessions == 0
}

// Clone returns a deep copy of the state.
func (s *SubsystemState) Clone() *SubsystemState {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.Zones = maps.Clone(s.Zones)
	cloned.Inventory = maps.Clone(s.Inventory)
	cloned.Details = s.Details.Clone()

	if s.Sessions != nil {
		cloned.Sessions = make([]*Session, len(s.Sessions))
		for i, session := range s.Sessions {
			cloned.Sessions[i] = session.Clone()
		}
	}

	return &cloned
}
