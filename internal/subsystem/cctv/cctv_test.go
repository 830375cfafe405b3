package cctv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

func ptr(v float64) *float64 {
	return &v
}

// testLayout has a PTZ camera on the bridge and fixed cameras in the engine room and on deck.
func testLayout() Config {
	return Config{
		Cameras: []Camera{
			{ID: "CAM001", Name: "Bridge Overview", Zone: "bridge", Type: TypePTZ},
			{ID: "CAM002", Name: "Engine Room Main", Zone: "engine_room", Type: TypeFixed},
			{ID: "CAM006", Name: "Main Deck", Zone: "main_deck", Type: TypeFixed},
		},
		ZoneAliases: map[string]string{"propulsion": "engine_room"},
		Positions: map[string]Position{
			"bridge": {Pan: 0, Tilt: 0, Zoom: 1.5},
		},
		Presets: map[string]Preset{
			"emergency_stop": {
				Description:   "All cameras to wide view",
				RecordingMode: "continuous",
				Cameras: map[string]CameraSetting{
					"CAM001": {View: "wide", Zoom: ptr(1)},
					"CAM002": {View: "wide"},
				},
			},
			"fire_emergency": {
				Description:   "Focus on fire zones",
				RecordingMode: "continuous",
				Cameras: map[string]CameraSetting{
					"CAM002": {View: "engine_room_overview"},
				},
			},
			"normal_operations": {
				Description:   "Standard monitoring",
				RecordingMode: "motion_detection",
				Cameras: map[string]CameraSetting{
					"CAM001": {View: "navigation", Pan: ptr(0), Tilt: ptr(0), Zoom: ptr(1)},
				},
			},
		},
		EventPresets: map[string]string{"fire_alarm": "fire_emergency"},
	}
}

func newTestAdapter(t *testing.T, mutate func(*Config)) (*Adapter, *subsystem.Manual, *[]*safety.SystemEvent) {
	t.Helper()

	manual := subsystem.NewManual(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))

	cfg := testLayout()
	if mutate != nil {
		mutate(&cfg)
	}

	adapter, err := New(cfg, subsystem.WithManual(manual))
	require.NoError(t, err)
	t.Cleanup(adapter.Close)

	var events []*safety.SystemEvent

	require.NoError(t, adapter.RegisterEventSink(func(event *safety.SystemEvent) {
		events = append(events, event)
	}))

	return adapter, manual, &events
}

// TestTrigger_OneRecordingPerZone verifies presets, aliases and recording reuse.
func TestTrigger_OneRecordingPerZone(t *testing.T) {
	t.Parallel()

	adapter, _, events := newTestAdapter(t, nil)
	ctx := context.Background()

	first, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "propulsion", Reason: "fire_alarm"})
	require.NoError(t, err)
	require.Equal(t, "engine_room", first.Target)
	require.Equal(t, "fire_emergency", first.Details["preset_applied"])
	require.Equal(t, []string{"CAM002"}, first.Affected)
	require.NotEmpty(t, first.SessionID)

	second, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "engine_room", Reason: "fire_alarm"})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Len(t, *events, 1)
	require.Equal(t, EventRecordingStarted, (*events)[0].Kind)

	state := adapter.Status(ctx)
	require.Equal(t, 1, state.ActiveSessions)
	require.Zero(t, state.ActiveAlarms)
	require.Equal(t, safety.StatusAlarm, state.Zones["engine_room"])

	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: "galley"})
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestTrigger_WithoutRecording verifies record=false only repositions cameras.
func TestTrigger_WithoutRecording(t *testing.T) {
	t.Parallel()

	adapter, _, events := newTestAdapter(t, nil)
	ctx := context.Background()

	result, err := adapter.Trigger(ctx, safety.TriggerRequest{
		Target: subsystem.AllZones,
		Reason: "unknown_event",
		Params: safety.Payload{"record": false},
	})
	require.NoError(t, err)
	require.Equal(t, DefaultEventPreset, result.Details["preset_applied"])
	require.Len(t, result.Affected, 3)
	require.Empty(t, result.SessionID)
	require.Empty(t, *events)
	require.True(t, adapter.Status(ctx).Quiet())
}

// TestReset_RestoresIdlePreset verifies reset by zone and the idle preset.
func TestReset_RestoresIdlePreset(t *testing.T) {
	t.Parallel()

	adapter, _, events := newTestAdapter(t, nil)
	ctx := context.Background()

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "bridge", Reason: "emergency_stop"})
	require.NoError(t, err)

	position, view, err := adapter.CameraPosition("CAM001")
	require.NoError(t, err)
	require.Equal(t, "wide", view)
	require.InDelta(t, 1.5, position.Zoom, 1e-9)

	result, err := adapter.Reset(ctx, "bridge")
	require.NoError(t, err)
	require.Len(t, result.Details["session_ids"], 1)

	_, view, err = adapter.CameraPosition("CAM001")
	require.NoError(t, err)
	require.Equal(t, "navigation", view)

	again, err := adapter.Reset(ctx, "bridge")
	require.NoError(t, err)
	require.Equal(t, "no active recording", again.Message)
	require.Len(t, *events, 2)
	require.Equal(t, EventRecordingStopped, (*events)[1].Kind)

	_, err = adapter.Reset(ctx, "no-such-session")
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestRecording_Expires verifies a bounded recording completes and reports it.
func TestRecording_Expires(t *testing.T) {
	t.Parallel()

	adapter, manual, events := newTestAdapter(t, func(cfg *Config) {
		cfg.RecordingDuration = 10 * time.Minute
	})
	ctx := context.Background()

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "main_deck", Reason: "man_overboard"})
	require.NoError(t, err)

	manual.Advance(10 * time.Minute)

	require.True(t, adapter.Status(ctx).Quiet())
	require.Len(t, *events, 2)
	require.Equal(t, EventRecordingStopped, (*events)[1].Kind)
	require.Equal(t, true, (*events)[1].Payload["completed"])
}

// TestControlPTZ verifies clamping and the fixed camera guard.
func TestControlPTZ(t *testing.T) {
	t.Parallel()

	adapter, _, _ := newTestAdapter(t, nil)
	ctx := context.Background()

	position, err := adapter.ControlPTZ(ctx, "CAM001", ptr(270), ptr(-120), ptr(25))
	require.NoError(t, err)
	require.Equal(t, Position{Pan: 180, Tilt: -90, Zoom: 10}, position)

	position, err = adapter.ControlPTZ(ctx, "CAM001", nil, ptr(10), nil)
	require.NoError(t, err)
	require.Equal(t, Position{Pan: 180, Tilt: 10, Zoom: 10}, position)

	_, err = adapter.ControlPTZ(ctx, "CAM002", ptr(10), nil, nil)
	require.ErrorIs(t, err, safety.ErrInvalidTransition)

	_, err = adapter.ControlPTZ(ctx, "CAM404", nil, nil, nil)
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestScore verifies offline, storage and stale-test penalties.
func TestScore(t *testing.T) {
	t.Parallel()

	adapter, manual, _ := newTestAdapter(t, nil)
	ctx := context.Background()

	require.InDelta(t, 80.0, adapter.Status(ctx).PerformanceScore, 1e-9)

	require.NoError(t, adapter.SetCameraOnline(ctx, "CAM006", false))

	report := adapter.Test(ctx)
	require.Equal(t, safety.TestFail, report.Overall)
	require.Equal(t, 1, report.Failed)

	adapter.SetStorageUsage(95)

	state := adapter.Status(ctx)
	require.Equal(t, safety.StatusFault, state.Zones["main_deck"])
	require.Equal(t, 2, state.Inventory["online_cameras"])
	require.InDelta(t, 65.0, state.PerformanceScore, 1e-9)

	manual.Advance(40 * 24 * time.Hour)
	require.InDelta(t, 55.0, adapter.Status(ctx).PerformanceScore, 1e-9)
}

// TestConfigValidate verifies cross references are checked.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := testLayout()
	cfg.ZoneAliases["galley"] = "laundry"
	require.Error(t, cfg.Validate())

	cfg = testLayout()
	cfg.EventPresets["man_overboard"] = "missing"
	require.Error(t, cfg.Validate())

	cfg = testLayout()
	cfg.Cameras = append(cfg.Cameras, Camera{ID: "CAM001", Zone: "galley", Type: TypeFixed})
	require.Error(t, cfg.Validate())

	cfg = testLayout()
	require.NoError(t, cfg.Validate())
	require.InDelta(t, DefaultStorageUsage, cfg.StorageUsage, 1e-9)
}
