package paga

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// Event kinds emitted by the adapter.
const (
	EventAlarmActivated      = "alarm_activated"
	EventAlarmStopped        = "alarm_stopped"
	EventAnnouncementStarted = "announcement_started"
	EventAnnouncementEnded   = "announcement_ended"
)

// TargetAlarms resets every alarm signal and leaves announcements playing.
const TargetAlarms = "alarms"

const (
	offlineSpeakerPenalty = 2
	silentZonePenalty     = 10
)

//nolint:gochecknoglobals // Immutable scoring table.
var stalePolicy = subsystem.StalePolicy{GraceDays: 7, Cap: 30, Never: 25}

// speaker is one loudspeaker.
type speaker struct {
	id     string
	zone   string
	online bool
}

// Adapter is the public address and general alarm subsystem.
type Adapter struct {
	// mu protects speaker state and lastTest.
	mu sync.RWMutex
	// emitter delivers events to the registered sink.
	emitter subsystem.Emitter
	// opts carries the clock, scheduler and test policy.
	opts subsystem.Options
	// cfg is the validated layout the adapter was built from.
	cfg Config
	// zones lists zone names in layout order.
	zones []string
	// speakers are numbered SPK001.. in zone order.
	speakers []*speaker
	// sessions tracks alarm signals and announcements.
	sessions *subsystem.Sessions
	// lastTest is when the last self-test ran.
	lastTest time.Time
}

var _ safety.Adapter = (*Adapter)(nil)

// New builds the adapter and numbers speakers SPK001.. in zone order.
func New(cfg Config, opts ...subsystem.Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := subsystem.NewOptions(opts...)

	a := &Adapter{
		opts:     options,
		cfg:      cfg,
		sessions: subsystem.NewSessions(options.Clock, options.Scheduler),
	}

	for _, zone := range cfg.Zones {
		a.zones = append(a.zones, zone.Name)

		for range zone.Speakers {
			a.speakers = append(a.speakers, &speaker{
				id:     fmt.Sprintf("SPK%03d", len(a.speakers)+1),
				zone:   zone.Name,
				online: true,
			})
		}
	}

	return a, nil
}

// System identifies the adapter.
func (a *Adapter) System() safety.SystemType {
	return safety.SystemPAGA
}

// RegisterEventSink sets the single event consumer.
func (a *Adapter) RegisterEventSink(sink safety.EventSink) error {
	return a.emitter.Register(sink)
}

// Trigger sounds the alarm type named by req.Reason in the target zones.
// The target is a zone, a comma-separated zone list or all_zones.
func (a *Adapter) Trigger(ctx context.Context, req safety.TriggerRequest) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	zones, err := a.parseZones(req.Target)
	if err != nil {
		return nil, err
	}

	alarmType := req.Reason
	if alarmType == "" {
		alarmType = DefaultAlarmType
	}

	alarm, ok := a.cfg.AlarmTypes[alarmType]
	if !ok {
		return nil, fmt.Errorf("alarm type %q: %w", alarmType, safety.ErrNotFound)
	}

	message := alarm.Message
	if custom, ok := req.Params.String("message"); ok {
		message = custom
	}

	if zone, ok := req.Params.String("zone"); ok {
		message = strings.ReplaceAll(message, "{zone}", strings.ToUpper(strings.ReplaceAll(zone, "_", " ")))
	}

	a.mu.Lock()

	session := a.sessions.FindActive(func(s *safety.Session) bool {
		return s.Kind == safety.SessionAlarm && s.Details["alarm_type"] == alarmType && slices.Equal(s.Zones, zones)
	})

	started := session == nil
	if started {
		session = a.sessions.Start(safety.SessionAlarm, zones, alarm.Duration, safety.Payload{
			"alarm_type": alarmType,
			"pattern":    alarm.Pattern,
			"message":    message,
		}, a.onAlarmExpired)
	}

	now := a.opts.Clock()
	a.mu.Unlock()

	result := &safety.Result{
		Success:   true,
		System:    safety.SystemPAGA,
		Action:    safety.ActionTrigger,
		Target:    strings.Join(zones, ","),
		Affected:  zones,
		SessionID: session.ID,
		Details: safety.Payload{
			"alarm_type": alarmType,
			"pattern":    alarm.Pattern,
			"duration":   alarm.Duration.String(),
		},
		Timestamp: now,
	}

	if !started {
		result.Message = fmt.Sprintf("%s already sounding", alarmType)

		return result, nil
	}

	result.Message = fmt.Sprintf("%s sounding in %s", alarmType, result.Target)

	logger.WarnKV(ctx, "General alarm activated", "alarm_type", alarmType, "zones", zones,
		"pattern", alarm.Pattern, "session_id", session.ID)

	a.emitter.Emit(safety.NewEvent(safety.SystemPAGA, EventAlarmActivated, safety.Payload{
		"session_id": session.ID,
		"alarm_type": alarmType,
		"zones":      zones,
		"pattern":    alarm.Pattern,
		"message":    message,
	}, now))

	return result, nil
}

// Announce plays a voice announcement. Empty zones mean all_zones and a
// non-positive duration uses the configured default.
func (a *Adapter) Announce(
	ctx context.Context,
	message string,
	zones []string,
	duration time.Duration,
) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("empty announcement: %w", safety.ErrInvalidTransition)
	}

	targets, err := a.parseZones(strings.Join(zones, ","))
	if err != nil {
		return nil, err
	}

	if duration <= 0 {
		duration = a.cfg.AnnouncementDuration
	}

	a.mu.Lock()
	session := a.sessions.Start(safety.SessionAnnouncement, targets, duration, safety.Payload{
		"message": message,
	}, a.onAnnouncementEnded)
	now := a.opts.Clock()
	a.mu.Unlock()

	logger.InfoKV(ctx, "Announcement started", "zones", targets, "session_id", session.ID)

	a.emitter.Emit(safety.NewEvent(safety.SystemPAGA, EventAnnouncementStarted, safety.Payload{
		"session_id": session.ID,
		"message":    message,
		"zones":      targets,
		"duration":   duration.String(),
	}, now))

	return &safety.Result{
		Success:   true,
		System:    safety.SystemPAGA,
		Action:    "announce",
		Target:    strings.Join(targets, ","),
		Message:   message,
		Affected:  targets,
		SessionID: session.ID,
		Timestamp: now,
	}, nil
}

// Reset stops alarms and announcements by session id, zone or all_zones.
// The alarms target stops alarm signals only.
func (a *Adapter) Reset(ctx context.Context, target string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if target == "" {
		target = subsystem.AllZones
	}

	var match func(*safety.Session) bool

	switch {
	case target == subsystem.AllZones:
		match = func(*safety.Session) bool { return true }
	case target == TargetAlarms:
		match = func(s *safety.Session) bool { return s.Kind == safety.SessionAlarm }
	case slices.Contains(a.zones, target):
		match = func(s *safety.Session) bool { return s.Covers(target) }
	default:
		if _, ok := a.sessions.Get(target); !ok {
			return nil, fmt.Errorf("paga zone or session %q: %w", target, safety.ErrNotFound)
		}

		match = func(s *safety.Session) bool { return s.ID == target }
	}

	a.mu.Lock()
	stopped := a.sessions.StopMatching(match)
	now := a.opts.Clock()
	a.mu.Unlock()

	ids := make([]string, 0, len(stopped))
	for _, session := range stopped {
		ids = append(ids, session.ID)
	}

	result := &safety.Result{
		Success:   true,
		System:    safety.SystemPAGA,
		Action:    safety.ActionReset,
		Target:    target,
		Details:   safety.Payload{"session_ids": ids},
		Timestamp: now,
	}

	if len(stopped) == 0 {
		result.Message = "nothing sounding"

		return result, nil
	}

	result.Message = fmt.Sprintf("stopped %d session(s)", len(stopped))

	logger.InfoKV(ctx, "PAGA silenced", "target", target, "session_ids", ids)

	a.emitter.Emit(safety.NewEvent(safety.SystemPAGA, EventAlarmStopped, safety.Payload{
		"zone":        target,
		"session_ids": ids,
	}, now))

	return result, nil
}

// SetSpeakerOnline marks a speaker online or offline.
func (a *Adapter) SetSpeakerOnline(ctx context.Context, id string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, spk := range a.speakers {
		if spk.id == id {
			spk.online = online

			return nil
		}
	}

	return fmt.Errorf("speaker %q: %w", id, safety.ErrNotFound)
}

// Test checks every speaker and the zone volume levels.
func (a *Adapter) Test(ctx context.Context) *safety.TestReport {
	waitErr := subsystem.Wait(ctx, a.opts.IODelay)

	a.mu.Lock()
	defer a.mu.Unlock()

	volumes := make(map[string]int, len(a.cfg.Zones))
	for _, zone := range a.cfg.Zones {
		volumes[zone.Name] = zone.Volume
	}

	now := a.opts.Clock()
	devices := make([]safety.DeviceResult, 0, len(a.speakers))

	for _, spk := range a.speakers {
		result := safety.DeviceResult{Device: spk.id, Zone: spk.zone, Passed: true}

		switch {
		case waitErr != nil:
			result.Passed = false
			result.Detail = waitErr.Error()
		case !spk.online:
			result.Passed = false
			result.Detail = "speaker offline"
		case volumes[spk.zone] < minAudibleVolume:
			result.Passed = false
			result.Detail = fmt.Sprintf("volume %d below %d", volumes[spk.zone], minAudibleVolume)
		}

		devices = append(devices, result)
	}

	a.lastTest = now

	return safety.NewTestReport(safety.SystemPAGA, devices, a.opts.TestPolicy, now)
}

// Status reports zones, speakers and sounding sessions.
func (a *Adapter) Status(_ context.Context) *safety.SubsystemState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.opts.Clock()
	sessions := a.sessions.Active()

	var (
		zones   = make(map[string]safety.Status, len(a.zones))
		online  = make(map[string]int, len(a.zones))
		offline int
	)

	for _, spk := range a.speakers {
		if spk.online {
			online[spk.zone]++
		} else {
			offline++
		}
	}

	silent := 0

	for _, zone := range a.cfg.Zones {
		zones[zone.Name] = safety.StatusNormal

		if zone.Speakers > 0 && online[zone.Name] == 0 {
			zones[zone.Name] = safety.StatusFault
			silent++
		}
	}

	for _, session := range sessions {
		if session.Kind != safety.SessionAlarm {
			continue
		}

		for _, zone := range a.expand(session.Zones) {
			zones[zone] = safety.StatusAlarm
		}
	}

	score := subsystem.MaxScore
	score -= float64(offline*offlineSpeakerPenalty + silent*silentZonePenalty)
	score -= stalePolicy.Penalty(a.lastTest, now)

	return &safety.SubsystemState{
		System:         safety.SystemPAGA,
		Status:         safety.DeriveStatus(zones),
		Zones:          zones,
		ActiveSessions: len(sessions),
		FaultyDevices:  offline,
		Inventory: map[string]int{
			"zones":           len(a.zones),
			"speakers":        len(a.speakers),
			"online_speakers": len(a.speakers) - offline,
		},
		Sessions:         sessions,
		LastTest:         a.lastTest,
		PerformanceScore: subsystem.Clamp(score),
		Details: safety.Payload{
			"online_speakers": online,
			"silent_zones":    silent,
		},
		UpdatedAt: now,
	}
}

// RestoreLastTest seeds the self-test time from a persisted snapshot.
func (a *Adapter) RestoreLastTest(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if at.After(a.lastTest) {
		a.lastTest = at
	}
}

// Close disarms session timers.
func (a *Adapter) Close() {
	a.sessions.Close()
}

// onAlarmExpired reports an alarm signal that ran its full duration.
func (a *Adapter) onAlarmExpired(session *safety.Session) {
	a.emitter.Emit(safety.NewEvent(safety.SystemPAGA, EventAlarmStopped, safety.Payload{
		"zone":        strings.Join(session.Zones, ","),
		"session_ids": []string{session.ID},
		"completed":   true,
	}, session.EndTime))
}

func (a *Adapter) onAnnouncementEnded(session *safety.Session) {
	a.emitter.Emit(safety.NewEvent(safety.SystemPAGA, EventAnnouncementEnded, safety.Payload{
		"session_id": session.ID,
		"zones":      session.Zones,
	}, session.EndTime))
}

// parseZones normalizes a zone target. all_zones absorbs every other zone.
func (a *Adapter) parseZones(target string) ([]string, error) {
	var zones []string

	for part := range strings.SplitSeq(target, ",") {
		zone := strings.TrimSpace(part)

		switch {
		case zone == "":
			continue
		case zone == subsystem.AllZones:
			return []string{subsystem.AllZones}, nil
		case !slices.Contains(a.zones, zone):
			return nil, fmt.Errorf("paga zone %q: %w", zone, safety.ErrNotFound)
		}

		if !slices.Contains(zones, zone) {
			zones = append(zones, zone)
		}
	}

	if len(zones) == 0 {
		return []string{subsystem.AllZones}, nil
	}

	slices.Sort(zones)

	return zones, nil
}

// expand resolves all_zones into concrete zones.
func (a *Adapter) expand(zones []string) []string {
	if slices.Contains(zones, subsystem.AllZones) {
		return a.zones
	}

	return zones
}
