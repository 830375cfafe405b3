package safety

import (
	"slices"
	"time"
)

// SessionKind names the timed activity a session tracks.
type SessionKind string

const (
	// SessionAlarm is a PAGA alarm signal.
	SessionAlarm SessionKind = "alarm"
	// SessionAnnouncement is a PAGA voice announcement.
	SessionAnnouncement SessionKind = "announcement"
	// SessionRecording is a CCTV emergency recording.
	SessionRecording SessionKind = "recording"
	// SessionDistressCall is an active distress transmission.
	SessionDistressCall SessionKind = "distress_call"
	// SessionSuppression is a fire suppression countdown or discharge.
	SessionSuppression SessionKind = "suppression"
)

// SessionStatus is the lifecycle position of a session.
type SessionStatus string

const (
	// SessionActive means the session is running.
	SessionActive SessionStatus = "active"
	// SessionCompleted means the session expired naturally.
	SessionCompleted SessionStatus = "completed"
	// SessionStopped means the session was cancelled before expiry.
	SessionStopped SessionStatus = "stopped"
)

// Session is a timed, stateful activity owned by one adapter.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`
	// Kind is the activity type.
	Kind SessionKind `json:"kind"`
	// StartTime is when the session started.
	StartTime time.Time `json:"start_time"`
	// Zones lists the zones the session covers.
	Zones []string `json:"zones"`
	// Status is the lifecycle position; terminal statuses never revert.
	Status SessionStatus `json:"status"`
	// Duration is the planned length; zero means until stopped.
	Duration time.Duration `json:"duration"`
	// EndTime is set when the session completes or stops.
	EndTime time.Time `json:"end_time,omitzero"`
	// Details carries kind-specific attributes (alarm type, position, ...).
	Details Payload `json:"details,omitempty"`
}

// Active reports whether the session is still running.
func (s *Session) Active() bool {
	return s != nil && s.Status == SessionActive
}

// Covers reports whether the session includes the zone.
func (s *Session) Covers(zone string) bool {
	return slices.Contains(s.Zones, zone)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.Zones = slices.Clone(s.Zones)
	cloned.Details = s.Details.Clone()

	return &cloned
}
