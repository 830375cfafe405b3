package paga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

func testLayout() Config {
	return Config{
		Zones: []Zone{
			{Name: "bridge", Priority: "critical", Speakers: 2, Volume: 8, BackupPower: true},
			{Name: "engine_room", Priority: "critical", Speakers: 3, Volume: 9, BackupPower: true},
			{Name: "galley", Priority: "medium", Speakers: 1, Volume: 6},
		},
		AlarmTypes: map[string]AlarmType{
			"general_alarm": {
				Pattern:  "7_short_1_long",
				Duration: time.Minute,
				Message:  "GENERAL ALARM. ALL PERSONNEL TO EMERGENCY STATIONS.",
			},
			"fire_alarm": {
				Pattern:  "continuous_alternating",
				Duration: 2 * time.Minute,
				Message:  "ATTENTION ALL PERSONNEL. FIRE ALARM IN {zone}.",
			},
		},
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *subsystem.Manual, *[]*safety.SystemEvent) {
	t.Helper()

	manual := subsystem.NewManual(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))

	adapter, err := New(testLayout(), subsystem.WithManual(manual))
	require.NoError(t, err)
	t.Cleanup(adapter.Close)

	var events []*safety.SystemEvent

	require.NoError(t, adapter.RegisterEventSink(func(event *safety.SystemEvent) {
		events = append(events, event)
	}))

	return adapter, manual, &events
}

// TestTrigger_SameAlarmIsNoop verifies one session per alarm type and zone set.
func TestTrigger_SameAlarmIsNoop(t *testing.T) {
	t.Parallel()

	adapter, _, events := newTestAdapter(t)
	ctx := context.Background()

	first, err := adapter.Trigger(ctx, safety.TriggerRequest{
		Target: "all_zones",
		Reason: "fire_alarm",
		Params: safety.Payload{"zone": "engine_room"},
	})
	require.NoError(t, err)

	second, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "all_zones", Reason: "fire_alarm"})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: "galley,bridge", Reason: "general_alarm"})
	require.NoError(t, err)

	require.Len(t, *events, 2)
	require.Equal(t, EventAlarmActivated, (*events)[0].Kind)
	require.Equal(t, "ATTENTION ALL PERSONNEL. FIRE ALARM IN ENGINE ROOM.", (*events)[0].Payload["message"])
	require.Equal(t, []string{"bridge", "galley"}, (*events)[1].Payload["zones"])

	state := adapter.Status(ctx)
	require.Equal(t, 2, state.ActiveSessions)
	require.Zero(t, state.ActiveAlarms)
	require.Equal(t, safety.StatusAlarm, state.Zones["engine_room"])

	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: "laundry"})
	require.ErrorIs(t, err, safety.ErrNotFound)

	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: "bridge", Reason: "foghorn"})
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestAlarm_ExpiresAfterStop verifies a silenced alarm is never completed by its timer.
func TestAlarm_ExpiresAfterStop(t *testing.T) {
	t.Parallel()

	adapter, manual, events := newTestAdapter(t)
	ctx := context.Background()

	result, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "bridge"})
	require.NoError(t, err)

	reset, err := adapter.Reset(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, []string{result.SessionID}, reset.Details["session_ids"])

	manual.Advance(time.Hour)

	session, ok := adapter.sessions.Get(result.SessionID)
	require.True(t, ok)
	require.Equal(t, safety.SessionStopped, session.Status)
	require.Len(t, *events, 2)
	require.Equal(t, EventAlarmStopped, (*events)[1].Kind)
	require.True(t, adapter.Status(ctx).Quiet())
}

// TestAlarm_Completes verifies a signal that runs its duration is reported once.
func TestAlarm_Completes(t *testing.T) {
	t.Parallel()

	adapter, manual, events := newTestAdapter(t)
	ctx := context.Background()

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "engine_room"})
	require.NoError(t, err)

	manual.Advance(time.Minute)

	require.True(t, adapter.Status(ctx).Quiet())
	require.Len(t, *events, 2)
	require.Equal(t, true, (*events)[1].Payload["completed"])

	again, err := adapter.Reset(ctx, "engine_room")
	require.NoError(t, err)
	require.Equal(t, "nothing sounding", again.Message)
	require.Len(t, *events, 2)
}

// TestAnnounce verifies announcements start sessions and reject empty messages.
func TestAnnounce(t *testing.T) {
	t.Parallel()

	adapter, manual, events := newTestAdapter(t)
	ctx := context.Background()

	result, err := adapter.Announce(ctx, "Lifeboat drill at 14:00", nil, 0)
	require.NoError(t, err)
	require.Equal(t, []string{subsystem.AllZones}, result.Affected)
	require.Equal(t, EventAnnouncementStarted, (*events)[0].Kind)
	require.Equal(t, DefaultAnnouncementDuration.String(), (*events)[0].Payload["duration"])
	require.Equal(t, safety.StatusNormal, adapter.Status(ctx).Status)

	manual.Advance(DefaultAnnouncementDuration)
	require.Zero(t, adapter.Status(ctx).ActiveSessions)
	require.Len(t, *events, 2)
	require.Equal(t, EventAnnouncementEnded, (*events)[1].Kind)
	require.Equal(t, result.SessionID, (*events)[1].Payload["session_id"])

	_, err = adapter.Announce(ctx, "  ", []string{"bridge"}, time.Second)
	require.ErrorIs(t, err, safety.ErrInvalidTransition)
}

// TestReset_AlarmsKeepsAnnouncements verifies the alarms target silences
// alarm signals and leaves a running announcement alone.
func TestReset_AlarmsKeepsAnnouncements(t *testing.T) {
	t.Parallel()

	adapter, _, _ := newTestAdapter(t)
	ctx := context.Background()

	announcement, err := adapter.Announce(ctx, "Crew to muster stations", []string{"galley"}, time.Hour)
	require.NoError(t, err)

	alarm, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "bridge", Reason: "fire_alarm"})
	require.NoError(t, err)

	result, err := adapter.Reset(ctx, TargetAlarms)
	require.NoError(t, err)
	require.Equal(t, []string{alarm.SessionID}, result.Details["session_ids"])

	state := adapter.Status(ctx)
	require.Equal(t, 1, state.ActiveSessions)
	require.Equal(t, announcement.SessionID, state.Sessions[0].ID)

	again, err := adapter.Reset(ctx, TargetAlarms)
	require.NoError(t, err)
	require.Equal(t, "nothing sounding", again.Message)
}

// TestScore verifies offline speaker and silent zone penalties.
func TestScore(t *testing.T) {
	t.Parallel()

	adapter, _, _ := newTestAdapter(t)
	ctx := context.Background()

	require.InDelta(t, 75.0, adapter.Status(ctx).PerformanceScore, 1e-9)

	require.NoError(t, adapter.SetSpeakerOnline(ctx, "SPK006", false))
	require.NoError(t, adapter.SetSpeakerOnline(ctx, "SPK001", false))

	report := adapter.Test(ctx)
	require.Equal(t, 2, report.Failed)
	require.Equal(t, safety.TestFail, report.Overall)

	state := adapter.Status(ctx)
	require.Equal(t, safety.StatusFault, state.Zones["galley"])
	require.Equal(t, safety.StatusNormal, state.Zones["bridge"])
	require.Equal(t, 6, state.Inventory["speakers"])
	require.InDelta(t, 86.0, state.PerformanceScore, 1e-9)

	require.ErrorIs(t, adapter.SetSpeakerOnline(ctx, "SPK999", false), safety.ErrNotFound)
}
