package fire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// testLayout has an occupied engine room with five detectors and an empty cargo hold.
func testLayout() Config {
	return Config{
		Zones: []Zone{
			{
				Name:           "engine_room",
				Priority:       "critical",
				EvacuationTime: 2 * time.Minute,
				Personnel:      2,
				Detectors: []Detector{
					{ID: "FD-ER-001", Type: "heat"},
					{ID: "FD-ER-002", Type: "smoke"},
					{ID: "FD-ER-003", Type: "gas"},
					{ID: "FD-ER-004", Type: "flame"},
					{ID: "FD-ER-005", Type: "multi_sensor"},
				},
				Suppression: Suppression{Type: "CO2", DischargeTime: time.Minute, Pressure: 150, Capacity: 1000},
			},
			{
				Name:      "cargo_hold",
				Priority:  "high",
				Detectors: []Detector{{ID: "FD-CH-001", Type: "smoke"}},
				Suppression: Suppression{
					Type: "Foam", DischargeTime: 3 * time.Minute, Pressure: 10, Capacity: 3000,
				},
			},
		},
	}
}

// newTestAdapter builds an adapter on a manual clock and records emitted events.
func newTestAdapter(t *testing.T, opts ...subsystem.Option) (*Adapter, *subsystem.Manual, *[]*safety.SystemEvent) {
	t.Helper()

	manual := subsystem.NewManual(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))

	adapter, err := New(testLayout(), append([]subsystem.Option{subsystem.WithManual(manual)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(adapter.Close)

	var events []*safety.SystemEvent

	require.NoError(t, adapter.RegisterEventSink(func(event *safety.SystemEvent) {
		events = append(events, event)
	}))

	return adapter, manual, &events
}

// TestTrigger_IdempotentPerZone verifies one alarm and one event per zone.
func TestTrigger_IdempotentPerZone(t *testing.T) {
	t.Parallel()

	adapter, _, events := newTestAdapter(t)
	ctx := context.Background()

	first, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "engine_room", Reason: "smoke"})
	require.NoError(t, err)

	second, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "engine_room", Reason: "smoke"})
	require.NoError(t, err)
	require.Equal(t, first.Details["alarm_id"], second.Details["alarm_id"])
	require.Len(t, *events, 1)

	event := (*events)[0]
	require.Equal(t, EventFireAlarm, event.Kind)
	require.Equal(t, "engine_room", event.Payload["zone"])
	require.Equal(t, "FD-ER-001", event.Payload["detector_id"])

	state := adapter.Status(ctx)
	require.Equal(t, 1, state.ActiveAlarms)
	require.Equal(t, 1, state.ActiveSessions)
	require.Equal(t, safety.StatusAlarm, state.Status)

	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: "bridge"})
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestTrigger_FaultyDetectorRejected verifies a faulty detector cannot raise
// an alarm and keeps its fault until returned to service.
func TestTrigger_FaultyDetectorRejected(t *testing.T) {
	t.Parallel()

	adapter, _, events := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.SetDetectorFault(ctx, "FD-ER-002", true))

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{
		Target: "engine_room",
		Params: safety.Payload{"detector_id": "FD-ER-002"},
	})
	require.ErrorIs(t, err, safety.ErrInvalidTransition)
	require.Empty(t, *events)

	state := adapter.Status(ctx)
	require.Equal(t, 1, state.FaultyDevices)
	require.Zero(t, state.ActiveAlarms)
	require.Equal(t, safety.StatusFault, state.Zones["engine_room"])

	require.NoError(t, adapter.SetDetectorFault(ctx, "FD-ER-002", false))

	result, err := adapter.Trigger(ctx, safety.TriggerRequest{
		Target: "engine_room",
		Params: safety.Payload{"detector_id": "FD-ER-002"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "FD-ER-002", (*events)[0].Payload["detector_id"])
}

// TestSuppressionLifecycle verifies countdown, discharge, reset and recharge.
func TestSuppressionLifecycle(t *testing.T) {
	t.Parallel()

	adapter, manual, _ := newTestAdapter(t)
	ctx := context.Background()

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "engine_room"})
	require.NoError(t, err)
	requireSuppression(t, adapter, "engine_room", SuppressionCountdown)

	manual.Advance(DefaultOccupiedDelay)
	requireSuppression(t, adapter, "engine_room", SuppressionDischarging)

	manual.Advance(time.Minute)
	requireSuppression(t, adapter, "engine_room", SuppressionDischarged)
	require.Zero(t, adapter.Status(ctx).ActiveSessions)

	_, err = adapter.Reset(ctx, "engine_room")
	require.NoError(t, err)
	requireSuppression(t, adapter, "engine_room", SuppressionRecharging)
	require.Zero(t, adapter.Status(ctx).ActiveAlarms)

	manual.Advance(DefaultRechargeTime)
	requireSuppression(t, adapter, "engine_room", SuppressionReady)
}

// TestReset_CancelsCountdown verifies a reset during the countdown never discharges.
func TestReset_CancelsCountdown(t *testing.T) {
	t.Parallel()

	adapter, manual, events := newTestAdapter(t)
	ctx := context.Background()

	result, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "cargo_hold"})
	require.NoError(t, err)
	require.Equal(t, DefaultUnoccupiedDelay.String(), result.Details["suppression_delay"])

	alarmID, ok := result.Details.String("alarm_id")
	require.True(t, ok)

	_, err = adapter.Reset(ctx, alarmID)
	require.NoError(t, err)

	manual.Advance(time.Hour)
	requireSuppression(t, adapter, "cargo_hold", SuppressionReady)
	require.Len(t, *events, 2)
	require.Equal(t, EventFireAlarmReset, (*events)[1].Kind)
	require.Equal(t, []string{alarmID}, (*events)[1].Payload["alarm_ids"])

	state := adapter.Status(ctx)
	require.True(t, state.Quiet())

	_, err = adapter.Reset(ctx, "FA-NOPE")
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestActivateSuppression verifies manual discharge and its guard.
func TestActivateSuppression(t *testing.T) {
	t.Parallel()

	adapter, _, _ := newTestAdapter(t)
	ctx := context.Background()

	_, err := adapter.ActivateSuppression(ctx, "engine_room")
	require.NoError(t, err)
	requireSuppression(t, adapter, "engine_room", SuppressionDischarging)

	_, err = adapter.ActivateSuppression(ctx, "engine_room")
	require.ErrorIs(t, err, safety.ErrInvalidTransition)

	_, err = adapter.ActivateSuppression(ctx, "galley")
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestSelfTest_FailurePolicy verifies two faulty detectors out of five fail only a strict policy.
func TestSelfTest_FailurePolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		policy safety.TestPolicy
		want   safety.TestOutcome
	}{
		{name: "strict", policy: safety.TestPolicy{}, want: safety.TestFail},
		{name: "tolerant", policy: safety.TestPolicy{MaxFailedRatio: 0.5}, want: safety.TestPass},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			adapter, _, _ := newTestAdapter(t, subsystem.WithTestPolicy(tc.policy))
			require.NoError(t, adapter.SetDetectorFault(ctx, "FD-ER-002", true))
			require.NoError(t, adapter.SetDetectorFault(ctx, "FD-ER-004", true))

			report := adapter.Test(ctx)
			require.Equal(t, tc.want, report.Overall)
			require.Equal(t, 2, report.Failed)
			require.Len(t, report.Devices, 6)

			state := adapter.Status(ctx)
			require.Equal(t, 2, state.FaultyDevices)
			require.InDelta(t, 90.0, state.PerformanceScore, 1e-9)
		})
	}
}

// TestScore_Bounds verifies the score never leaves [0, 100].
func TestScore_Bounds(t *testing.T) {
	t.Parallel()

	adapter, manual, _ := newTestAdapter(t)
	ctx := context.Background()

	require.InDelta(t, 75.0, adapter.Status(ctx).PerformanceScore, 1e-9)

	for _, id := range []string{"FD-ER-001", "FD-ER-002", "FD-ER-003", "FD-ER-004", "FD-ER-005", "FD-CH-001"} {
		require.NoError(t, adapter.SetDetectorFault(ctx, id, true))
	}

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: "engine_room"})
	require.NoError(t, err)
	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: "cargo_hold"})
	require.NoError(t, err)

	manual.Advance(365 * 24 * time.Hour)

	score := adapter.Status(ctx).PerformanceScore
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 100.0)
}

// requireSuppression asserts the suppression status of a zone.
func requireSuppression(t *testing.T, adapter *Adapter, zone, want string) {
	t.Helper()

	status, err := adapter.SuppressionStatus(zone)
	require.NoError(t, err)
	require.Equal(t, want, status)
}
