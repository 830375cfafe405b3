package cctv

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// Event kinds emitted by the adapter.
const (
	EventRecordingStarted = "emergency_recording_started"
	EventRecordingStopped = "emergency_recording_stopped"
)

// PTZ limits.
const (
	maxPan  = 180.0
	maxTilt = 90.0
	minZoom = 1.0
	maxZoom = 10.0
)

const (
	offlinePenalty     = 15
	storageFullPenalty = 20
	storageHighPenalty = 10
)

//nolint:gochecknoglobals // Immutable scoring table.
var stalePolicy = subsystem.StalePolicy{GraceDays: 30, Cap: 25, Never: 20}

// camera is the runtime view of an installed camera.
type camera struct {
	cfg       Camera
	online    bool
	view      string
	recording string
	position  Position
}

// Adapter is the CCTV subsystem.
type Adapter struct {
	// mu protects every field below except emitter and sessions.
	mu sync.RWMutex
	// emitter delivers events to the coordinator.
	emitter subsystem.Emitter
	// opts holds clock, scheduler and test policy.
	opts subsystem.Options
	// cfg is the validated layout.
	cfg Config
	// cameras maps camera ids to runtime state.
	cameras map[string]*camera
	// order keeps the configured camera order.
	order []string
	// zones lists camera zones in first-seen order.
	zones []string
	// preset is the last applied preset name.
	preset string
	// storage is the recorder fill level in percent.
	storage float64
	// sessions holds emergency recordings.
	sessions *subsystem.Sessions
	// lastTest is the last self-test time.
	lastTest time.Time
}

var _ safety.Adapter = (*Adapter)(nil)

// New builds the adapter from a layout and applies the idle preset.
func New(cfg Config, opts ...subsystem.Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := subsystem.NewOptions(opts...)

	a := &Adapter{
		opts:     options,
		cfg:      cfg,
		cameras:  make(map[string]*camera, len(cfg.Cameras)),
		storage:  cfg.StorageUsage,
		sessions: subsystem.NewSessions(options.Clock, options.Scheduler),
	}

	for _, c := range cfg.Cameras {
		a.cameras[c.ID] = &camera{cfg: c, online: true, position: Position{Zoom: minZoom}}
		a.order = append(a.order, c.ID)

		if !slices.Contains(a.zones, c.Zone) {
			a.zones = append(a.zones, c.Zone)
		}
	}

	a.applyPresetLocked(cfg.IdlePreset)

	return a, nil
}

// System identifies the adapter.
func (a *Adapter) System() safety.SystemType {
	return safety.SystemCCTV
}

// RegisterEventSink sets the single event consumer.
func (a *Adapter) RegisterEventSink(sink safety.EventSink) error {
	return a.emitter.Register(sink)
}

// Trigger applies the preset for the event kind in req.Reason, aims PTZ cameras at
// the zone and starts an emergency recording unless params.record is false or a
// recording already covers the zone.
func (a *Adapter) Trigger(ctx context.Context, req safety.TriggerRequest) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := req.Target
	if target == "" {
		target = subsystem.AllZones
	}

	zone, ok := a.resolveZone(target)
	if !ok {
		return nil, fmt.Errorf("cctv zone %q: %w", target, safety.ErrNotFound)
	}

	record := boolParam(req.Params, "record", true)

	a.mu.Lock()

	preset := a.presetFor(req.Reason)
	a.applyPresetLocked(preset)
	focused := a.focusLocked(zone)

	var (
		session *safety.Session
		started bool
	)

	if record {
		session = a.sessions.FindActive(func(s *safety.Session) bool {
			return s.Covers(zone) || s.Covers(subsystem.AllZones)
		})

		if session == nil {
			session = a.sessions.Start(safety.SessionRecording, []string{zone}, a.cfg.RecordingDuration, safety.Payload{
				"event_kind": req.Reason,
				"preset":     preset,
				"cameras":    focused,
			}, a.onRecordingExpired)
			started = true
		}
	}

	now := a.opts.Clock()
	a.mu.Unlock()

	result := &safety.Result{
		Success:  true,
		System:   safety.SystemCCTV,
		Action:   safety.ActionTrigger,
		Target:   zone,
		Message:  fmt.Sprintf("preset %s applied, %d camera(s) focused on %s", preset, len(focused), zone),
		Affected: focused,
		Details: safety.Payload{
			"preset_applied":  preset,
			"cameras_focused": focused,
			"recording":       session != nil,
		},
		Timestamp: now,
	}

	if session != nil {
		result.SessionID = session.ID
	}

	if !started {
		return result, nil
	}

	logger.InfoKV(ctx, "Emergency recording started", "zone", zone, "session_id", session.ID, "preset", preset)

	a.emitter.Emit(safety.NewEvent(safety.SystemCCTV, EventRecordingStarted, safety.Payload{
		"session_id": session.ID,
		"zone":       zone,
		"event_kind": req.Reason,
		"preset":     preset,
		"cameras":    focused,
	}, now))

	return result, nil
}

// Reset stops recordings by session id, zone or all_zones and restores the idle
// preset once nothing is recording.
func (a *Adapter) Reset(ctx context.Context, target string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if target == "" {
		target = subsystem.AllZones
	}

	var match func(*safety.Session) bool

	if target == subsystem.AllZones {
		match = func(*safety.Session) bool { return true }
	} else if zone, ok := a.resolveZone(target); ok {
		match = func(s *safety.Session) bool { return s.Covers(zone) }
	} else if _, ok := a.sessions.Get(target); ok {
		match = func(s *safety.Session) bool { return s.ID == target }
	} else {
		return nil, fmt.Errorf("cctv zone or session %q: %w", target, safety.ErrNotFound)
	}

	a.mu.Lock()

	stopped := a.sessions.StopMatching(match)
	if len(stopped) > 0 && len(a.sessions.Active()) == 0 {
		a.applyPresetLocked(a.cfg.IdlePreset)
	}

	now := a.opts.Clock()
	a.mu.Unlock()

	ids := sessionIDs(stopped)
	result := &safety.Result{
		Success:   true,
		System:    safety.SystemCCTV,
		Action:    safety.ActionReset,
		Target:    target,
		Details:   safety.Payload{"session_ids": ids},
		Timestamp: now,
	}

	if len(stopped) == 0 {
		result.Message = "no active recording"

		return result, nil
	}

	result.Message = fmt.Sprintf("stopped %d recording(s)", len(stopped))

	logger.InfoKV(ctx, "Emergency recording stopped", "target", target, "session_ids", ids)

	a.emitter.Emit(safety.NewEvent(safety.SystemCCTV, EventRecordingStopped, safety.Payload{
		"zone":        target,
		"session_ids": ids,
	}, now))

	return result, nil
}

// ApplyPreset applies a named preset to every camera it lists.
func (a *Adapter) ApplyPreset(ctx context.Context, name string) (*safety.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preset, ok := a.cfg.Presets[name]
	if !ok {
		return nil, fmt.Errorf("camera preset %q: %w", name, safety.ErrNotFound)
	}

	a.mu.Lock()
	a.applyPresetLocked(name)
	now := a.opts.Clock()
	a.mu.Unlock()

	return &safety.Result{
		Success:   true,
		System:    safety.SystemCCTV,
		Action:    "apply_preset",
		Target:    name,
		Message:   preset.Description,
		Affected:  slices.Sorted(maps.Keys(preset.Cameras)),
		Details:   safety.Payload{"recording_mode": preset.RecordingMode},
		Timestamp: now,
	}, nil
}

// ControlPTZ moves a PTZ camera. Values are clamped to the mechanical limits;
// nil values keep the current position.
func (a *Adapter) ControlPTZ(ctx context.Context, id string, pan, tilt, zoom *float64) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cam, ok := a.cameras[id]
	if !ok {
		return Position{}, fmt.Errorf("camera %q: %w", id, safety.ErrNotFound)
	}

	if cam.cfg.Type != TypePTZ {
		return Position{}, fmt.Errorf("move fixed camera %s: %w", id, safety.ErrInvalidTransition)
	}

	if pan != nil {
		cam.position.Pan = clamp(*pan, -maxPan, maxPan)
	}

	if tilt != nil {
		cam.position.Tilt = clamp(*tilt, -maxTilt, maxTilt)
	}

	if zoom != nil {
		cam.position.Zoom = clamp(*zoom, minZoom, maxZoom)
	}

	logger.DebugKV(ctx, "PTZ camera positioned", "camera", id, "pan", cam.position.Pan,
		"tilt", cam.position.Tilt, "zoom", cam.position.Zoom)

	return cam.position, nil
}

// SetCameraOnline marks a camera online or offline.
func (a *Adapter) SetCameraOnline(ctx context.Context, id string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cam, ok := a.cameras[id]
	if !ok {
		return fmt.Errorf("camera %q: %w", id, safety.ErrNotFound)
	}

	cam.online = online

	return nil
}

// SetStorageUsage records the recorder fill level in percent.
func (a *Adapter) SetStorageUsage(percent float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.storage = clamp(percent, 0, 100)
}

// CameraPosition returns the current PTZ position and view of a camera.
func (a *Adapter) CameraPosition(id string) (Position, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cam, ok := a.cameras[id]
	if !ok {
		return Position{}, "", fmt.Errorf("camera %q: %w", id, safety.ErrNotFound)
	}

	return cam.position, cam.view, nil
}

// Test checks connectivity and recording of every camera.
func (a *Adapter) Test(ctx context.Context) *safety.TestReport {
	waitErr := subsystem.Wait(ctx, a.opts.IODelay)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.Clock()
	devices := make([]safety.DeviceResult, 0, len(a.order))

	for _, id := range a.order {
		cam := a.cameras[id]
		result := safety.DeviceResult{Device: id, Zone: cam.cfg.Zone, Passed: cam.online}

		switch {
		case waitErr != nil:
			result.Passed = false
			result.Detail = waitErr.Error()
		case !cam.online:
			result.Detail = "camera offline"
		}

		devices = append(devices, result)
	}

	a.lastTest = now

	return safety.NewTestReport(safety.SystemCCTV, devices, a.opts.TestPolicy, now)
}

// Status returns cameras, recordings and storage.
func (a *Adapter) Status(_ context.Context) *safety.SubsystemState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.opts.Clock()
	sessions := a.sessions.Active()
	zones := make(map[string]safety.Status, len(a.zones))
	cameras := make(map[string]any, len(a.order))
	offline, ptz := 0, 0

	for _, zone := range a.zones {
		zones[zone] = safety.StatusNormal
	}

	for _, id := range a.order {
		cam := a.cameras[id]

		if cam.cfg.Type == TypePTZ {
			ptz++
		}

		if !cam.online {
			offline++
			zones[cam.cfg.Zone] = safety.StatusFault
		}

		cameras[id] = map[string]any{
			"name":      cam.cfg.Name,
			"zone":      cam.cfg.Zone,
			"type":      cam.cfg.Type,
			"online":    cam.online,
			"view":      cam.view,
			"recording": cam.recording,
			"pan":       cam.position.Pan,
			"tilt":      cam.position.Tilt,
			"zoom":      cam.position.Zoom,
		}
	}

	for _, session := range sessions {
		for _, zone := range session.Zones {
			if zone == subsystem.AllZones {
				for _, z := range a.zones {
					zones[z] = safety.StatusAlarm
				}

				continue
			}

			zones[zone] = safety.StatusAlarm
		}
	}

	return &safety.SubsystemState{
		System:         safety.SystemCCTV,
		Status:         safety.DeriveStatus(zones),
		Zones:          zones,
		ActiveSessions: len(sessions),
		FaultyDevices:  offline,
		Inventory: map[string]int{
			"cameras":        len(a.order),
			"ptz_cameras":    ptz,
			"online_cameras": len(a.order) - offline,
		},
		Sessions:         sessions,
		LastTest:         a.lastTest,
		PerformanceScore: a.scoreLocked(now, offline),
		Details: safety.Payload{
			"cameras":        cameras,
			"current_preset": a.preset,
			"storage_usage":  a.storage,
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

// Close disarms recording timers.
func (a *Adapter) Close() {
	a.sessions.Close()
}

// onRecordingExpired reports a bounded recording that ran to completion.
func (a *Adapter) onRecordingExpired(session *safety.Session) {
	a.mu.Lock()
	if len(a.sessions.Active()) == 0 {
		a.applyPresetLocked(a.cfg.IdlePreset)
	}
	a.mu.Unlock()

	a.emitter.Emit(safety.NewEvent(safety.SystemCCTV, EventRecordingStopped, safety.Payload{
		"zone":        session.Zones[0],
		"session_ids": []string{session.ID},
		"completed":   true,
	}, session.EndTime))
}

// resolveZone maps a target to a camera zone, following aliases.
func (a *Adapter) resolveZone(target string) (string, bool) {
	if target == subsystem.AllZones {
		return target, true
	}

	if alias, ok := a.cfg.ZoneAliases[target]; ok {
		return alias, true
	}

	return target, slices.Contains(a.zones, target)
}

// presetFor returns the preset configured for an event kind.
func (a *Adapter) presetFor(kind string) string {
	if name, ok := a.cfg.EventPresets[kind]; ok {
		return name
	}

	return a.cfg.DefaultPreset
}

// applyPresetLocked applies a known preset. Caller holds mu.
func (a *Adapter) applyPresetLocked(name string) {
	preset := a.cfg.Presets[name]

	for id, setting := range preset.Cameras {
		cam := a.cameras[id]
		cam.view = setting.View
		cam.recording = preset.RecordingMode

		if cam.cfg.Type != TypePTZ {
			continue
		}

		if setting.Pan != nil {
			cam.position.Pan = clamp(*setting.Pan, -maxPan, maxPan)
		}

		if setting.Tilt != nil {
			cam.position.Tilt = clamp(*setting.Tilt, -maxTilt, maxTilt)
		}

		if setting.Zoom != nil {
			cam.position.Zoom = clamp(*setting.Zoom, minZoom, maxZoom)
		}
	}

	a.preset = name
}

// focusLocked aims PTZ cameras in the zone and switches its cameras to continuous
// recording. It returns the cameras covering the zone. Caller holds mu.
func (a *Adapter) focusLocked(zone string) []string {
	var focused []string

	position, hasPosition := a.cfg.Positions[zone]

	for _, id := range a.order {
		cam := a.cameras[id]
		if zone != subsystem.AllZones && cam.cfg.Zone != zone {
			continue
		}

		if hasPosition && cam.cfg.Type == TypePTZ {
			cam.position = Position{
				Pan:  clamp(position.Pan, -maxPan, maxPan),
				Tilt: clamp(position.Tilt, -maxTilt, maxTilt),
				Zoom: clamp(position.Zoom, minZoom, maxZoom),
			}
		}

		cam.recording = "continuous"
		focused = append(focused, id)
	}

	return focused
}

// scoreLocked computes the performance score. Caller holds mu.
func (a *Adapter) scoreLocked(now time.Time, offline int) float64 {
	score := subsystem.MaxScore
	score -= float64(offline * offlinePenalty)

	switch {
	case a.storage > 90:
		score -= storageFullPenalty
	case a.storage > 80:
		score -= storageHighPenalty
	}

	score -= stalePolicy.Penalty(a.lastTest, now)

	return subsystem.Clamp(score)
}

// boolParam reads an optional boolean trigger parameter.
func boolParam(params safety.Payload, key string, fallback bool) bool {
	if value, ok := params[key].(bool); ok {
		return value
	}

	return fallback
}

// sessionIDs extracts session identifiers.
func sessionIDs(sessions []*safety.Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.ID)
	}

	return ids
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
