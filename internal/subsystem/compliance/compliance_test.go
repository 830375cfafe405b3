package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/subsystem"
)

// fakeReader serves fixed subsystem states.
type fakeReader struct {
	states map[safety.SystemType]*safety.SubsystemState
}

func (f *fakeReader) Snapshot(context.Context) map[safety.SystemType]*safety.SubsystemState {
	return f.states
}

var testNow = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

// healthyShip returns states that pass every automated check.
func healthyShip() map[safety.SystemType]*safety.SubsystemState {
	tested := testNow.Add(-time.Hour)

	return map[safety.SystemType]*safety.SubsystemState{
		safety.SystemEmergencyStop: {
			Inventory:        map[string]int{"zones": 5},
			PerformanceScore: 100,
			LastTest:         tested,
		},
		safety.SystemFireDetection: {
			Zones: map[string]safety.Status{
				"engine_room": safety.StatusNormal, "bridge": safety.StatusNormal,
				"crew_quarters": safety.StatusNormal, "cargo_hold": safety.StatusNormal,
			},
			Inventory: map[string]int{"suppression_systems": 5},
			LastTest:  tested,
		},
		safety.SystemCCTV:          {LastTest: tested},
		safety.SystemPAGA:          {Inventory: map[string]int{"speakers": 43}, LastTest: tested},
		safety.SystemCommunication: {Inventory: map[string]int{"vhf_radios": 2, "emergency_capable": 5}},
	}
}

func testConfig() Config {
	return Config{
		Certificates: []Certificate{
			{
				Name: "safety_management_certificate", Standard: StandardISM, Number: "SMC-2023-001",
				Issued: time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), Expires: time.Date(2028, 1, 15, 0, 0, 0, 0, time.UTC),
			},
			{
				Name: "safety_radio_certificate", Standard: StandardSOLAS, Number: "SRC-2023-045",
				Issued: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), Expires: time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC),
			},
		},
	}
}

func newTestAdapter(t *testing.T, reader safety.StatusReader) (*Adapter, *[]*safety.SystemEvent) {
	t.Helper()

	manual := subsystem.NewManual(testNow)

	adapter, err := New(testConfig(), reader, subsystem.WithManual(manual))
	require.NoError(t, err)

	var events []*safety.SystemEvent

	require.NoError(t, adapter.RegisterEventSink(func(event *safety.SystemEvent) {
		events = append(events, event)
	}))

	return adapter, &events
}

// TestTrigger_OpensAndResolvesViolations verifies violations follow check outcomes.
func TestTrigger_OpensAndResolvesViolations(t *testing.T) {
	t.Parallel()

	states := healthyShip()
	states[safety.SystemCommunication].Inventory["vhf_radios"] = 1
	reader := &fakeReader{states: states}

	adapter, events := newTestAdapter(t, reader)
	ctx := context.Background()

	result, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: StandardSOLAS})
	require.NoError(t, err)
	require.Equal(t, map[string]any{StandardSOLAS: StatusNonCompliant}, result.Details["statuses"])
	require.Len(t, *events, 1)
	require.Equal(t, EventViolation, (*events)[0].Kind)

	violations := adapter.Violations()
	require.Len(t, violations, 1)
	require.Equal(t, "vhf_radio_coverage", violations[0].Requirement)

	// A repeated failure keeps the same violation.
	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: StandardSOLAS})
	require.NoError(t, err)
	require.Len(t, *events, 1)
	require.Len(t, adapter.Violations(), 1)

	states[safety.SystemCommunication].Inventory["vhf_radios"] = 2

	result, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: StandardSOLAS})
	require.NoError(t, err)
	require.Equal(t, []string{violations[0].ID}, result.Details["resolved"])
	require.Empty(t, adapter.Violations())

	_, err = adapter.Trigger(ctx, safety.TriggerRequest{Target: "imdg"})
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestTrigger_ISM verifies preparedness and maintenance checks.
func TestTrigger_ISM(t *testing.T) {
	t.Parallel()

	states := healthyShip()
	states[safety.SystemEmergencyStop].PerformanceScore = 60
	states[safety.SystemPAGA].LastTest = time.Time{}
	states[safety.SystemCCTV].LastTest = time.Time{}

	adapter, _ := newTestAdapter(t, &fakeReader{states: states})
	ctx := context.Background()

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: StandardISM})
	require.NoError(t, err)

	requirements := make(map[string]string)
	for _, v := range adapter.Violations() {
		requirements[v.Requirement] = v.Status
	}

	require.Equal(t, map[string]string{
		"emergency_preparedness": StatusWarning,
		"maintenance":            StatusWarning,
	}, requirements)

	state := adapter.Status(ctx)
	require.Equal(t, safety.StatusMaintenance, state.Zones[StandardISM])
	require.Zero(t, state.ActiveAlarms)
	require.True(t, state.Quiet())

	// Two open violations and one certificate expiring within the warning window.
	require.InDelta(t, 70.0, state.PerformanceScore, 1e-9)
}

// TestReset_ResolvesViolations verifies reset by id, by standard and unknown ids.
func TestReset_ResolvesViolations(t *testing.T) {
	t.Parallel()

	states := healthyShip()
	states[safety.SystemPAGA].Inventory["speakers"] = 10
	states[safety.SystemFireDetection].ActiveAlarms = 1

	adapter, events := newTestAdapter(t, &fakeReader{states: states})
	ctx := context.Background()

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: StandardDNV})
	require.NoError(t, err)

	open := adapter.Violations()
	require.Len(t, open, 2)

	result, err := adapter.Reset(ctx, open[0].ID)
	require.NoError(t, err)
	require.Equal(t, []string{open[0].ID}, result.Affected)

	result, err = adapter.Reset(ctx, StandardDNV)
	require.NoError(t, err)
	require.Equal(t, []string{open[1].ID}, result.Affected)

	again, err := adapter.Reset(ctx, TargetAll)
	require.NoError(t, err)
	require.Equal(t, "no open violations", again.Message)

	require.Len(t, *events, 3)
	require.Equal(t, EventViolationsResolved, (*events)[2].Kind)

	_, err = adapter.Reset(ctx, "VIO-NOPE")
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestReport verifies overall status, pending standards and certificate warnings.
func TestReport(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, &fakeReader{states: healthyShip()})
	ctx := context.Background()

	_, err := adapter.Trigger(ctx, safety.TriggerRequest{Target: TargetAll})
	require.NoError(t, err)

	report := adapter.Report(ctx)
	require.Equal(t, StatusCompliant, report.Standards[StandardSOLAS].Status)
	require.Equal(t, StatusPending, report.Standards[StandardMARPOL].Status)
	require.Empty(t, report.Violations)
	require.Equal(t, StatusWarning, report.Overall)
	require.Len(t, report.Certificates.Warnings, 1)
	require.Len(t, report.Recommendations, 1)

	certs := adapter.Certificates(ctx)
	require.Equal(t, StatusWarning, certs.Certificates[1].Status)
	require.Equal(t, 9, certs.Certificates[1].DaysToExpiry)
	require.Zero(t, certs.Expired)
}

// TestTrigger_WithoutReader verifies a missing status feed is reported as unavailable.
func TestTrigger_WithoutReader(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, nil)

	_, err := adapter.Trigger(context.Background(), safety.TriggerRequest{})
	require.ErrorIs(t, err, safety.ErrUnavailable)

	report := adapter.Test(context.Background())
	require.Equal(t, safety.TestFail, report.Overall)
}
