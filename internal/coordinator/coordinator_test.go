package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/repository/state"
	"github.com/oshokin/ship-safety/internal/subsystem"
	"github.com/oshokin/ship-safety/internal/subsystem/cctv"
	"github.com/oshokin/ship-safety/internal/subsystem/comms"
	"github.com/oshokin/ship-safety/internal/subsystem/compliance"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
	"github.com/oshokin/ship-safety/internal/subsystem/fire"
	"github.com/oshokin/ship-safety/internal/subsystem/paga"
)

// shipFixture is a coordinator running over the built-in ship layout on a manual clock.
type shipFixture struct {
	coord  *Coordinator
	manual *subsystem.Manual
	estop  *estop.Adapter
	fire   *fire.Adapter
	cctv   *cctv.Adapter
	paga   *paga.Adapter
	comms  *comms.Adapter
}

func newShipFixture(t *testing.T, policy safety.TestPolicy, opts Options) *shipFixture {
	t.Helper()

	ship, err := config.LoadShip("")
	require.NoError(t, err)

	catalogue, err := config.LoadCatalogue("")
	require.NoError(t, err)

	manual := subsystem.NewManual(time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC))
	adapterOpts := []subsystem.Option{subsystem.WithManual(manual), subsystem.WithTestPolicy(policy)}

	f := &shipFixture{manual: manual}

	f.estop, err = estop.New(ship.EmergencyStop, adapterOpts...)
	require.NoError(t, err)

	f.fire, err = fire.New(ship.Fire, adapterOpts...)
	require.NoError(t, err)

	f.cctv, err = cctv.New(ship.CCTV, adapterOpts...)
	require.NoError(t, err)

	f.paga, err = paga.New(ship.PAGA, adapterOpts...)
	require.NoError(t, err)

	f.comms, err = comms.New(ship.Comms, adapterOpts...)
	require.NoError(t, err)

	registry := NewRegistry()
	for _, adapter := range []safety.Adapter{f.estop, f.fire, f.cctv, f.paga, f.comms} {
		require.NoError(t, registry.Register(adapter))
	}

	monitor, err := compliance.New(ship.Compliance, registry, adapterOpts...)
	require.NoError(t, err)
	require.NoError(t, registry.Register(monitor))

	opts.Clock = manual.Now

	f.coord, err = New(context.Background(), registry, catalogue, opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		f.fire.Close()
		f.cctv.Close()
		f.paga.Close()
		f.comms.Close()
	})

	startCoordinator(t, f.coord)

	return f
}

func startCoordinator(t *testing.T, coord *Coordinator) {
	t.Helper()

	done := make(chan error, 1)

	go func() {
		done <- coord.Run(context.Background())
	}()

	t.Cleanup(func() {
		coord.Shutdown(context.Background())
		require.NoError(t, <-done)
	})
}

func settle(t *testing.T, coord *Coordinator) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, coord.Settle(ctx))
}

func eventsOfKind(coord *Coordinator, kind string) []*safety.SystemEvent {
	var matched []*safety.SystemEvent

	for _, event := range coord.log.Since(time.Time{}) {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}

	return matched
}

func findAction(actions []safety.ResponseAction, system safety.SystemType, action string) (safety.ResponseAction, bool) {
	for _, a := range actions {
		if a.System == system && a.Action == action {
			return a, true
		}
	}

	return safety.ResponseAction{}, false
}

// TestFireInEngineRoom verifies the fire protocol stops engine-room machinery,
// sounds the alarm ship-wide, focuses cameras and escalates to EMERGENCY.
func TestFireInEngineRoom(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	result, err := f.coord.TriggerFireAlarm(ctx, "engine_room")
	require.NoError(t, err)
	require.True(t, result.Success)

	settle(t, f.coord)

	fires := eventsOfKind(f.coord, "fire_alarm")
	require.Len(t, fires, 1)

	event := fires[0]
	require.True(t, event.Processed)

	stop, ok := findAction(event.ResponseActions, safety.SystemEmergencyStop, safety.ActionTrigger)
	require.True(t, ok)
	require.True(t, stop.Success, stop.Error)
	require.Equal(t, "engine_room", stop.Target)
	require.NotEmpty(t, stop.Details["affected"])

	alarm, ok := findAction(event.ResponseActions, safety.SystemPAGA, safety.ActionTrigger)
	require.True(t, ok)
	require.True(t, alarm.Success, alarm.Error)
	require.Equal(t, "fire_alarm", alarm.Details["alarm_type"])
	require.NotEmpty(t, alarm.Details["session_id"])

	cameras, ok := findAction(event.ResponseActions, safety.SystemCCTV, safety.ActionTrigger)
	require.True(t, ok)
	require.True(t, cameras.Success, cameras.Error)

	_, ok = findAction(event.ResponseActions, safety.SystemCommunication, safety.ActionTrigger)
	require.True(t, ok)

	status, err := f.estop.MachineStatus("engine_room", "main_engine")
	require.NoError(t, err)
	require.Equal(t, estop.MachineEmergencyStop, status)

	pagaState := f.paga.Status(ctx)
	require.Positive(t, pagaState.ActiveSessions)

	require.Equal(t, safety.ShipEmergency, f.coord.ShipStatus())

	// The estop emitted by the fire protocol was coordinated too.
	stops := eventsOfKind(f.coord, "emergency_stop")
	require.Len(t, stops, 1)
	require.True(t, stops[0].Processed)
}

// TestFireResetReturnsToNormal verifies the ship stays in EMERGENCY while the
// estop holds and returns to NORMAL once both originating alarms are reset.
func TestFireResetReturnsToNormal(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	_, err := f.coord.TriggerFireAlarm(ctx, "engine_room")
	require.NoError(t, err)
	settle(t, f.coord)
	require.Equal(t, safety.ShipEmergency, f.coord.ShipStatus())

	_, err = f.fire.Reset(ctx, "engine_room")
	require.NoError(t, err)
	settle(t, f.coord)
	require.Equal(t, safety.ShipEmergency, f.coord.ShipStatus())

	_, err = f.estop.Reset(ctx, "engine_room")
	require.NoError(t, err)
	settle(t, f.coord)

	require.Equal(t, safety.ShipNormal, f.coord.ShipStatus())

	for _, state := range f.coord.registry.Snapshot(ctx) {
		require.True(t, state.Quiet(), "%s is not quiet", state.System)
	}

	// Critical machinery waits for a manual restart.
	status, err := f.estop.MachineStatus("engine_room", "main_engine")
	require.NoError(t, err)
	require.Equal(t, estop.MachineStopped, status)
}

// TestManOverboardCarriesPosition verifies the distress call action carries the exact position.
func TestManOverboardCarriesPosition(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := safety.ContextWithOperator(context.Background(), &safety.Operator{Hostname: "bridge-01", Username: "officer"})
	position := map[string]any{"lat": 59.1, "lon": 10.5}

	event, err := f.coord.TriggerManOverboard(ctx, position)
	require.NoError(t, err)
	require.Equal(t, "officer@bridge-01", event.Payload["operator"])

	settle(t, f.coord)

	processed, ok := f.coord.log.Get(event.ID)
	require.True(t, ok)
	require.True(t, processed.Processed)

	distress, ok := findAction(processed.ResponseActions, safety.SystemCommunication, safety.ActionTrigger)
	require.True(t, ok)
	require.True(t, distress.Success, distress.Error)
	require.Equal(t, comms.TargetDistress, distress.Target)
	require.Equal(t, position, distress.Details["position"])

	require.Equal(t, safety.ShipEmergency, f.coord.ShipStatus())
	require.Equal(t, "officer", f.coord.Snapshot().LastOperator.Username)
}

// TestResetAllConverges verifies that resetting every subsystem after mixed
// emergencies converges to NORMAL and reports the reset systems.
func TestResetAllConverges(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	_, err := f.coord.TriggerFireAlarm(ctx, "cargo_hold")
	require.NoError(t, err)

	_, err = f.coord.TriggerEmergencyStop(ctx, "deck_machinery")
	require.NoError(t, err)

	_, err = f.coord.TriggerManOverboard(ctx, "59.1N 10.5E")
	require.NoError(t, err)

	report, err := f.coord.ResetAllSystems(ctx)
	require.NoError(t, err)
	require.True(t, report.Success, report.Details)
	require.ElementsMatch(t, []safety.SystemType{
		safety.SystemEmergencyStop,
		safety.SystemFireDetection,
		safety.SystemPAGA,
		safety.SystemCCTV,
		safety.SystemCommunication,
	}, report.SystemsReset)

	settle(t, f.coord)

	require.Equal(t, safety.ShipNormal, f.coord.ShipStatus())

	for _, state := range f.coord.registry.Snapshot(ctx) {
		require.True(t, state.Quiet(), "%s is not quiet", state.System)
	}
}

// TestTriggerIdempotent verifies a repeated trigger raises one alarm and one event.
func TestTriggerIdempotent(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	_, err := f.coord.TriggerFireAlarm(ctx, "galley")
	require.NoError(t, err)

	_, err = f.coord.TriggerFireAlarm(ctx, "galley")
	require.NoError(t, err)

	settle(t, f.coord)

	require.Len(t, eventsOfKind(f.coord, "fire_alarm"), 1)
	require.Equal(t, 1, f.fire.Status(ctx).ActiveAlarms)

	_, err = f.coord.TriggerFireAlarm(ctx, "")
	require.ErrorIs(t, err, ErrZoneRequired)

	_, err = f.coord.TriggerFireAlarm(ctx, "lifeboat")
	require.ErrorIs(t, err, safety.ErrNotFound)
}

// TestSelfTestsUnderPolicy verifies that two faulty detectors out of five only
// fail the fire report when the policy says so, while other reports complete.
func TestSelfTestsUnderPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ratio  float64
		expect safety.TestOutcome
	}{
		{name: "tolerant policy", ratio: 0.5, expect: safety.TestPass},
		{name: "strict policy", ratio: 0.3, expect: safety.TestFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := state.NewFileRepository(filepath.Join(t.TempDir(), "state.json"))
			f := newShipFixture(t, safety.TestPolicy{MaxFailedRatio: tt.ratio}, Options{Store: store})
			ctx := context.Background()

			require.NoError(t, f.fire.SetDetectorFault(ctx, "FD-ER-001", true))
			require.NoError(t, f.fire.SetDetectorFault(ctx, "FD-ER-002", true))

			reports := f.coord.RunSelfTests(ctx)
			require.Len(t, reports, len(safety.Subsystems()))
			require.Equal(t, tt.expect, reports[safety.SystemFireDetection].Overall)
			require.Equal(t, 2, reports[safety.SystemFireDetection].Failed)
			require.Equal(t, safety.TestPass, reports[safety.SystemPAGA].Overall)

			saved, err := store.Load(ctx)
			require.NoError(t, err)
			require.Len(t, saved.LastTests, len(safety.Subsystems()))
		})
	}
}

// TestSelfTestsDoNotBlock verifies a hanging adapter is bounded by the step timeout.
func TestSelfTestsDoNotBlock(t *testing.T) {
	t.Parallel()

	hanging := newFakeAdapter(safety.SystemCCTV)
	hanging.block = true

	registry := NewRegistry()
	require.NoError(t, registry.Register(hanging))
	require.NoError(t, registry.Register(newFakeAdapter(safety.SystemPAGA)))

	coord, err := New(context.Background(), registry, testCatalogue(), Options{StepTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	reports := coord.RunSelfTests(context.Background())
	require.Equal(t, safety.TestFail, reports[safety.SystemCCTV].Overall)
	require.Equal(t, safety.TestPass, reports[safety.SystemPAGA].Overall)
}

// testCatalogue routes fire_alarm to a slow fake step and reset_all to a sweep.
func testCatalogue() *safety.Catalogue {
	catalogue := &safety.Catalogue{
		Fallback:  "general",
		StandDown: "stand_down",
		Routes:    map[string]string{"fire_alarm": "fire", "reset_all": "reset"},
		Protocols: map[string]*safety.Protocol{
			"general": {Priority: "medium", Escalation: safety.EscalateAlarm},
			"fire": {
				Priority:   "critical",
				Escalation: safety.EscalateEmergency,
				Steps: []safety.Step{
					{System: safety.SystemFireDetection, Action: safety.ActionTrigger, Target: "{zone}"},
					{System: safety.SystemPAGA, Action: safety.ActionTrigger, Target: "all_zones"},
				},
			},
			"reset": {
				Priority: "high",
				Sweep:    true,
				Steps: []safety.Step{
					{System: safety.SystemFireDetection, Action: safety.ActionReset, Target: "all_zones"},
				},
			},
			"stand_down": {
				Priority: "high",
				Steps: []safety.Step{
					{System: safety.SystemPAGA, Action: safety.ActionReset, Target: "all_zones"},
				},
			},
		},
	}

	if err := catalogue.Validate(); err != nil {
		panic(err)
	}

	return catalogue
}

func newFakeCoordinator(t *testing.T, opts Options, adapters ...safety.Adapter) *Coordinator {
	t.Helper()

	registry := NewRegistry()
	for _, adapter := range adapters {
		require.NoError(t, registry.Register(adapter))
	}

	coord, err := New(context.Background(), registry, testCatalogue(), opts)
	require.NoError(t, err)

	startCoordinator(t, coord)

	return coord
}

// TestStrictFIFO verifies a reset queued behind a slow fire is only handled
// after the fire event is processed.
func TestStrictFIFO(t *testing.T) {
	t.Parallel()

	detector := newFakeAdapter(safety.SystemFireDetection)
	detector.delay = 100 * time.Millisecond
	speaker := newFakeAdapter(safety.SystemPAGA)

	coord := newFakeCoordinator(t, Options{}, detector, speaker)
	ctx := context.Background()

	var (
		mu            sync.Mutex
		fireProcessed []bool
		fireEventID   string
	)

	detector.onCall = func(action string) {
		if action != safety.ActionReset+":all_zones" {
			return
		}

		event, ok := coord.log.Get(fireEventID)

		mu.Lock()
		fireProcessed = append(fireProcessed, ok && event.Processed)
		mu.Unlock()
	}

	fireEvent, err := coord.ReportEvent(ctx, safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "engine_room"})
	require.NoError(t, err)

	fireEventID = fireEvent.ID

	_, err = coord.ResetAllSystems(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{"trigger:engine_room", "reset:all_zones"}, detector.callLog())

	mu.Lock()
	require.Equal(t, []bool{true}, fireProcessed)
	mu.Unlock()
}

// TestStepIsolation verifies a failed step is recorded and later steps still run.
func TestStepIsolation(t *testing.T) {
	t.Parallel()

	detector := newFakeAdapter(safety.SystemFireDetection)
	detector.errs = []error{errors.New("detector bus down")}
	speaker := newFakeAdapter(safety.SystemPAGA)

	coord := newFakeCoordinator(t, Options{StepRetries: 3, RetryDelay: time.Millisecond}, detector, speaker)

	event, err := coord.ReportEvent(context.Background(), safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "bridge"})
	require.NoError(t, err)
	settle(t, coord)

	processed, _ := coord.log.Get(event.ID)
	require.Len(t, processed.ResponseActions, 2)
	require.False(t, processed.ResponseActions[0].Success)
	require.Contains(t, processed.ResponseActions[0].Error, safety.ErrIntegrationFailure.Error())
	require.True(t, processed.ResponseActions[1].Success)

	// Only unavailability is retried.
	require.Len(t, detector.callLog(), 1)
	require.Equal(t, safety.ShipEmergency, coord.ShipStatus())
}

// TestStepRetriesUnavailable verifies transient unavailability is retried until success.
func TestStepRetriesUnavailable(t *testing.T) {
	t.Parallel()

	detector := newFakeAdapter(safety.SystemFireDetection)
	detector.errs = []error{safety.ErrUnavailable, safety.ErrUnavailable}
	speaker := newFakeAdapter(safety.SystemPAGA)

	coord := newFakeCoordinator(t, Options{StepRetries: 2, RetryDelay: time.Millisecond}, detector, speaker)

	event, err := coord.ReportEvent(context.Background(), safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "bridge"})
	require.NoError(t, err)
	settle(t, coord)

	processed, _ := coord.log.Get(event.ID)
	require.True(t, processed.ResponseActions[0].Success, processed.ResponseActions[0].Error)
	require.Len(t, detector.callLog(), 3)
}

// TestStepTimeout verifies a hanging adapter call is cut off and recorded as failed.
func TestStepTimeout(t *testing.T) {
	t.Parallel()

	detector := newFakeAdapter(safety.SystemFireDetection)
	detector.block = true
	speaker := newFakeAdapter(safety.SystemPAGA)

	coord := newFakeCoordinator(t, Options{StepTimeout: 50 * time.Millisecond, StepRetries: -1}, detector, speaker)

	event, err := coord.ReportEvent(context.Background(), safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "bridge"})
	require.NoError(t, err)
	settle(t, coord)

	processed, _ := coord.log.Get(event.ID)
	require.False(t, processed.ResponseActions[0].Success)
	require.True(t, processed.ResponseActions[1].Success)
}

// TestSweepStandsDown verifies the sweep silences leftovers only once no
// originating alarm remains, and keeps the status otherwise.
func TestSweepStandsDown(t *testing.T) {
	t.Parallel()

	detector := newFakeAdapter(safety.SystemFireDetection)
	speaker := newFakeAdapter(safety.SystemPAGA)
	detector.alarms = 1
	speaker.sessions = 1

	coord := newFakeCoordinator(t, Options{}, detector, speaker)
	ctx := context.Background()

	_, err := coord.ReportEvent(ctx, safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "bridge"})
	require.NoError(t, err)

	// The fake keeps its alarm, so the reset cannot stand down.
	report, err := coord.ResetAllSystems(ctx)
	require.NoError(t, err)
	require.Equal(t, safety.ShipEmergency, report.ShipStatus)
	require.NotContains(t, speaker.callLog(), "reset:all_zones")

	detector.setQuiet()
	speaker.onCall = func(action string) {
		if action == "reset:all_zones" {
			speaker.mu.Lock()
			speaker.sessions = 0
			speaker.mu.Unlock()
		}
	}

	report, err = coord.ResetAllSystems(ctx)
	require.NoError(t, err)
	require.Equal(t, safety.ShipNormal, report.ShipStatus)
	require.Contains(t, speaker.callLog(), "reset:all_zones")
	require.Equal(t, []safety.SystemType{safety.SystemFireDetection, safety.SystemPAGA}, report.SystemsReset)
}

// TestFallbackProtocol verifies unknown kinds are processed, not dropped.
func TestFallbackProtocol(t *testing.T) {
	t.Parallel()

	coord := newFakeCoordinator(t, Options{}, newFakeAdapter(safety.SystemPAGA))

	event, err := coord.ReportEvent(context.Background(), "", "security_breach", nil)
	require.NoError(t, err)
	require.Equal(t, safety.SystemSafetyManager, event.Source)

	settle(t, coord)

	processed, ok := coord.log.Get(event.ID)
	require.True(t, ok)
	require.True(t, processed.Processed)
	require.Equal(t, safety.ShipAlarm, coord.ShipStatus())

	_, err = coord.ReportEvent(context.Background(), "", " ", nil)
	require.ErrorIs(t, err, ErrKindRequired)
}

// TestNotificationsAndStatus verifies observers are notified and queries reflect the log.
func TestNotificationsAndStatus(t *testing.T) {
	t.Parallel()

	broadcaster := NewBroadcaster(16)
	coord := newFakeCoordinator(t, Options{Notifier: broadcaster},
		newFakeAdapter(safety.SystemFireDetection), newFakeAdapter(safety.SystemPAGA))
	ctx := context.Background()

	updates, cancel, err := coord.Subscribe()
	require.NoError(t, err)

	defer cancel()

	event, err := coord.ReportEvent(ctx, safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "bridge"})
	require.NoError(t, err)

	select {
	case n := <-updates:
		require.Equal(t, event.ID, n.EventID)
		require.True(t, n.Processed)
		require.Equal(t, safety.ShipEmergency, n.ShipStatus)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}

	status := coord.GetSystemStatus(ctx)
	require.Equal(t, safety.ShipEmergency, status.ShipStatus)
	require.Len(t, status.Subsystems, 2)
	require.InDelta(t, 100, status.OverallHealth, 0.001)
	require.Empty(t, status.ActiveEvents)

	recent := coord.GetRecentEvents(ctx, 0)
	require.Equal(t, 1, recent.TotalEvents)
	require.InDelta(t, 24, recent.TimeframeHours, 0)

	_, err = coord.GetComplianceStatus(ctx)
	require.ErrorIs(t, err, safety.ErrUnavailable)

	_, err = coord.EventHistory(ctx, time.Time{}, 10)
	require.ErrorIs(t, err, safety.ErrUnavailable)

	// Without a broadcaster there is nothing to subscribe to.
	plain := newFakeCoordinator(t, Options{}, newFakeAdapter(safety.SystemCCTV))
	_, _, err = plain.Subscribe()
	require.ErrorIs(t, err, safety.ErrUnavailable)
}

// TestComplianceStatus verifies the compliance adapter report is exposed.
func TestComplianceStatus(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})

	status, err := f.coord.GetComplianceStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Certificates.Certificates, 4)
	require.NotEmpty(t, status.Report.ID)
}

// TestShutdownResetsAdapters verifies shutdown resets every adapter and stops the consumer.
func TestShutdownResetsAdapters(t *testing.T) {
	t.Parallel()

	detector := newFakeAdapter(safety.SystemFireDetection)
	speaker := newFakeAdapter(safety.SystemPAGA)

	registry := NewRegistry()
	require.NoError(t, registry.Register(detector))
	require.NoError(t, registry.Register(speaker))

	coord, err := New(context.Background(), registry, testCatalogue(), Options{})
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- coord.Run(context.Background()) }()

	coord.Shutdown(context.Background())
	coord.Shutdown(context.Background())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	require.Equal(t, []string{"reset:all_zones"}, detector.callLog())
	require.Equal(t, []string{"reset:all_zones"}, speaker.callLog())

	_, err = coord.ReportEvent(context.Background(), "", "fire_alarm", nil)
	require.Error(t, err)
}

// TestRestoreSnapshot verifies self-test times and the operator survive a restart.
func TestRestoreSnapshot(t *testing.T) {
	t.Parallel()

	store := state.NewFileRepository(filepath.Join(t.TempDir(), "state.json"))
	tested := time.Date(2026, 10, 15, 6, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(context.Background(), &safety.ShipSnapshot{
		Status:       safety.ShipEmergency,
		UpdatedAt:    tested,
		LastOperator: &safety.Operator{Hostname: "ecr", Username: "chief"},
		LastTests:    map[safety.SystemType]time.Time{safety.SystemPAGA: tested},
	}))

	f := newShipFixture(t, safety.TestPolicy{}, Options{Store: store})

	require.Equal(t, safety.ShipNormal, f.coord.ShipStatus())
	require.True(t, tested.Equal(f.paga.Status(context.Background()).LastTest))
	require.Equal(t, "chief", f.coord.Snapshot().LastOperator.Username)
}

// TestDirectSubsystemCommands verifies direct adapter commands bypass protocols
// but still feed adapter events into the coordinator.
func TestDirectSubsystemCommands(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	result, err := f.coord.TriggerSubsystem(ctx, safety.SystemPAGA, safety.TriggerRequest{
		Target: "bridge",
		Reason: "abandon_ship",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.SessionID)

	settle(t, f.coord)
	require.Len(t, eventsOfKind(f.coord, "alarm_activated"), 1)
	require.Equal(t, safety.ShipAlarm, f.coord.ShipStatus())

	state, err := f.coord.SubsystemStatus(ctx, safety.SystemPAGA)
	require.NoError(t, err)
	require.Equal(t, 1, state.ActiveSessions)

	_, err = f.coord.ResetSubsystem(ctx, safety.SystemPAGA, "all_zones")
	require.NoError(t, err)
	settle(t, f.coord)

	require.Equal(t, safety.ShipNormal, f.coord.ShipStatus())

	report, err := f.coord.TestSubsystem(ctx, safety.SystemCCTV)
	require.NoError(t, err)
	require.Equal(t, safety.TestPass, report.Overall)
	require.Contains(t, f.coord.Snapshot().LastTests, safety.SystemCCTV)

	_, err = f.coord.SubsystemStatus(ctx, safety.SystemSafetyManager)
	require.ErrorIs(t, err, safety.ErrUnavailable)
}

// TestSweepLeavesNormalShipAlone verifies that resetting an operator recording
// on a NORMAL ship does not stand down announcements.
func TestSweepLeavesNormalShipAlone(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	announcement, err := f.paga.Announce(ctx, "Fire drill at 14:00", []string{"bridge"}, time.Hour)
	require.NoError(t, err)

	_, err = f.coord.TriggerSubsystem(ctx, safety.SystemCCTV, safety.TriggerRequest{Target: "bridge", Reason: "inspection"})
	require.NoError(t, err)

	_, err = f.coord.ResetSubsystem(ctx, safety.SystemCCTV, "all_zones")
	require.NoError(t, err)
	settle(t, f.coord)

	stopped := eventsOfKind(f.coord, "emergency_recording_stopped")
	require.Len(t, stopped, 1)
	require.Empty(t, stopped[0].ResponseActions)

	require.Equal(t, safety.ShipNormal, f.coord.ShipStatus())

	state := f.paga.Status(ctx)
	require.Equal(t, 1, state.ActiveSessions)
	require.Equal(t, announcement.SessionID, state.Sessions[0].ID)
}

// TestStandDownKeepsAnnouncements verifies the stand-down silences alarm
// signals only and the ship returns to NORMAL once the announcement ends.
func TestStandDownKeepsAnnouncements(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	alarm, err := f.coord.TriggerSubsystem(ctx, safety.SystemPAGA, safety.TriggerRequest{
		Target: "bridge",
		Reason: "abandon_ship",
	})
	require.NoError(t, err)
	settle(t, f.coord)
	require.Equal(t, safety.ShipAlarm, f.coord.ShipStatus())

	announcement, err := f.paga.Announce(ctx, "Crew to muster stations", []string{"galley"}, time.Hour)
	require.NoError(t, err)

	_, err = f.coord.ResetSubsystem(ctx, safety.SystemPAGA, alarm.SessionID)
	require.NoError(t, err)
	settle(t, f.coord)

	// The announcement keeps PAGA busy, so the ship holds its status.
	require.Equal(t, safety.ShipAlarm, f.coord.ShipStatus())

	state := f.paga.Status(ctx)
	require.Equal(t, 1, state.ActiveSessions)
	require.Equal(t, announcement.SessionID, state.Sessions[0].ID)

	f.manual.Advance(time.Hour)
	settle(t, f.coord)

	require.Len(t, eventsOfKind(f.coord, "announcement_ended"), 1)
	require.Equal(t, safety.ShipNormal, f.coord.ShipStatus())
}

// TestDistressCallRaisesAlarm verifies an active MAYDAY holds the ship in
// ALARM until the distress call is cancelled.
func TestDistressCallRaisesAlarm(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	result, err := f.coord.TriggerSubsystem(ctx, safety.SystemCommunication, safety.TriggerRequest{
		Target: comms.TargetDistress,
		Reason: "Flooding in hold 2",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	settle(t, f.coord)

	calls := eventsOfKind(f.coord, "distress_call")
	require.Len(t, calls, 1)
	require.True(t, calls[0].Processed)
	require.Equal(t, safety.ShipAlarm, f.coord.ShipStatus())

	_, err = f.coord.ResetSubsystem(ctx, safety.SystemCommunication, comms.TargetDistress)
	require.NoError(t, err)
	settle(t, f.coord)

	require.Equal(t, safety.ShipNormal, f.coord.ShipStatus())
}

// TestQueuedEventsAreVisible verifies events waiting in the queue are listed
// as unprocessed and are logged once after processing.
func TestQueuedEventsAreVisible(t *testing.T) {
	t.Parallel()

	detector := newFakeAdapter(safety.SystemFireDetection)

	registry := NewRegistry()
	require.NoError(t, registry.Register(detector))

	coord, err := New(context.Background(), registry, testCatalogue(), Options{})
	require.NoError(t, err)

	ctx := context.Background()

	event, err := coord.ReportEvent(ctx, safety.SystemFireDetection, "fire_alarm", safety.Payload{"zone": "galley"})
	require.NoError(t, err)

	status := coord.GetSystemStatus(ctx)
	require.Len(t, status.ActiveEvents, 1)
	require.Equal(t, event.ID, status.ActiveEvents[0].ID)
	require.Equal(t, 1, status.QueueLength)

	recent := coord.GetRecentEvents(ctx, 1)
	require.Equal(t, 1, recent.TotalEvents)
	require.False(t, recent.Events[0].Processed)

	startCoordinator(t, coord)
	settle(t, coord)

	require.Empty(t, coord.GetSystemStatus(ctx).ActiveEvents)
	require.Equal(t, 1, coord.log.Len())

	processed, ok := coord.log.Get(event.ID)
	require.True(t, ok)
	require.True(t, processed.Processed)
}

// TestOperateSubsystem verifies named operations reach the adapters and
// reject unknown names and missing parameters.
func TestOperateSubsystem(t *testing.T) {
	t.Parallel()

	f := newShipFixture(t, safety.TestPolicy{}, Options{})
	ctx := context.Background()

	_, err := f.coord.TriggerEmergencyStop(ctx, "engine_room")
	require.NoError(t, err)

	_, err = f.coord.ResetSubsystem(ctx, safety.SystemEmergencyStop, "engine_room")
	require.NoError(t, err)
	settle(t, f.coord)

	status, err := f.estop.MachineStatus("engine_room", "main_engine")
	require.NoError(t, err)
	require.Equal(t, estop.MachineStopped, status)

	restart := safety.Payload{"zone": "engine_room", "machine": "main_engine"}

	result, err := f.coord.OperateSubsystem(ctx, safety.SystemEmergencyStop, OpRestartMachinery, restart)
	require.NoError(t, err)
	require.True(t, result.Success)

	status, err = f.estop.MachineStatus("engine_room", "main_engine")
	require.NoError(t, err)
	require.Equal(t, estop.MachineRunning, status)

	_, err = f.coord.OperateSubsystem(ctx, safety.SystemEmergencyStop, OpRestartMachinery, restart)
	require.ErrorIs(t, err, safety.ErrInvalidTransition)

	_, err = f.coord.OperateSubsystem(ctx, safety.SystemEmergencyStop, OpRestartMachinery,
		safety.Payload{"zone": "engine_room"})
	require.ErrorIs(t, err, ErrInvalidParam)

	_, err = f.coord.OperateSubsystem(ctx, safety.SystemCCTV, OpRestartMachinery, restart)
	require.ErrorIs(t, err, safety.ErrNotFound)

	moved, err := f.coord.OperateSubsystem(ctx, safety.SystemCCTV, OpControlPTZ,
		safety.Payload{"camera_id": "CAM001", "pan": "45", "zoom": 2.5})
	require.NoError(t, err)
	require.InDelta(t, 45, moved.Details["pan"], 0)
	require.InDelta(t, 2.5, moved.Details["zoom"], 0)

	_, err = f.coord.OperateSubsystem(ctx, safety.SystemCCTV, OpControlPTZ,
		safety.Payload{"camera_id": "CAM001", "tilt": "steep"})
	require.ErrorIs(t, err, ErrInvalidParam)

	announcement, err := f.coord.OperateSubsystem(ctx, safety.SystemPAGA, OpAnnounce,
		safety.Payload{"message": "Boat drill at 14:00", "zones": "galley,bridge", "duration": "30s"})
	require.NoError(t, err)
	require.Equal(t, []string{"bridge", "galley"}, announcement.Affected)
	require.NotEmpty(t, announcement.SessionID)

	_, err = f.coord.OperateSubsystem(ctx, safety.SystemFireDetection, OpSetDetectorFault,
		safety.Payload{"detector_id": "FD-GL-001"})
	require.NoError(t, err)
	require.Equal(t, 1, f.fire.Status(ctx).FaultyDevices)

	_, err = f.coord.OperateSubsystem(ctx, safety.SystemFireDetection, OpSetDetectorFault,
		safety.Payload{"detector_id": "FD-GL-001", "faulty": "false"})
	require.NoError(t, err)
	require.Zero(t, f.fire.Status(ctx).FaultyDevices)

	radio, err := f.coord.OperateSubsystem(ctx, safety.SystemCommunication, OpSetRadioStatus,
		safety.Payload{"radio_id": "VHF_002", "status": comms.RadioStandby})
	require.NoError(t, err)
	require.Equal(t, "VHF_002", radio.Target)

	procedures, err := f.coord.EmergencyProcedures(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, procedures.Steps)
	require.NotEmpty(t, procedures.Contacts)

	settle(t, f.coord)
}

// TestOperationsTable verifies every operation is listed under its subsystem.
func TestOperationsTable(t *testing.T) {
	t.Parallel()

	table := Operations()

	require.Equal(t, []string{OpRestartMachinery}, table[safety.SystemEmergencyStop])
	require.Equal(t, []string{OpApplyPreset, OpControlPTZ, OpSetCameraOnline}, table[safety.SystemCCTV])
	require.Equal(t, []string{OpAnnounce, OpSetSpeakerOnline}, table[safety.SystemPAGA])
	require.NotContains(t, table, safety.SystemCompliance)
}
