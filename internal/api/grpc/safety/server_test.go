package safety

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
)

// fakeService implements Service for transport tests.
type fakeService struct {
	mu        sync.Mutex
	operators []*safety.Operator
	zones     []string
	updates   chan safety.Notification
}

func newFakeService() *fakeService {
	return &fakeService{updates: make(chan safety.Notification, 4)}
}

func (f *fakeService) record(ctx context.Context, zone string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.operators = append(f.operators, safety.OperatorFromContext(ctx))
	f.zones = append(f.zones, zone)
}

func (f *fakeService) TriggerEmergencyStop(ctx context.Context, zone string) (*safety.Result, error) {
	f.record(ctx, zone)

	return &safety.Result{Success: true, System: safety.SystemEmergencyStop, Target: zone}, nil
}

func (f *fakeService) TriggerFireAlarm(ctx context.Context, zone string) (*safety.Result, error) {
	f.record(ctx, zone)

	if zone == "" {
		return nil, coordinator.ErrZoneRequired
	}

	if zone == "lifeboat" {
		return nil, fmt.Errorf("fire zone %q: %w", zone, safety.ErrNotFound)
	}

	return &safety.Result{
		Success:  true,
		System:   safety.SystemFireDetection,
		Action:   safety.ActionTrigger,
		Target:   zone,
		Affected: []string{"FD-ER-001"},
		Details:  safety.Payload{"evacuation_ordered": true},
	}, nil
}

func (f *fakeService) TriggerManOverboard(_ context.Context, position any) (*safety.SystemEvent, error) {
	return safety.NewEvent(safety.SystemSafetyManager, "man_overboard", safety.Payload{"position": position},
		time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)), nil
}

func (f *fakeService) ReportEvent(
	_ context.Context,
	source safety.SystemType,
	kind string,
	payload safety.Payload,
) (*safety.SystemEvent, error) {
	if kind == "" {
		return nil, coordinator.ErrKindRequired
	}

	return safety.NewEvent(source, kind, payload, time.Now()), nil
}

func (f *fakeService) ResetAllSystems(context.Context) (*coordinator.ResetReport, error) {
	return &coordinator.ResetReport{
		Success:      true,
		SystemsReset: []safety.SystemType{safety.SystemPAGA},
		ShipStatus:   safety.ShipNormal,
	}, nil
}

func (f *fakeService) GetSystemStatus(context.Context) *coordinator.SystemStatus {
	return &coordinator.SystemStatus{
		ShipStatus:    safety.ShipAlarm,
		OverallHealth: 92.5,
		Subsystems: map[safety.SystemType]*safety.SubsystemState{
			safety.SystemPAGA: {System: safety.SystemPAGA, Status: safety.StatusAlarm, ActiveSessions: 1},
		},
		QueueLength: 3,
	}
}

func (f *fakeService) GetRecentEvents(_ context.Context, hours float64) *coordinator.RecentEvents {
	return &coordinator.RecentEvents{TimeframeHours: hours}
}

func (f *fakeService) EventHistory(context.Context, time.Time, int) ([]*safety.SystemEvent, error) {
	return nil, fmt.Errorf("event archive: %w", safety.ErrUnavailable)
}

func (f *fakeService) GetComplianceStatus(context.Context) (*coordinator.ComplianceStatus, error) {
	return nil, fmt.Errorf("compliance report: %w", safety.ErrUnavailable)
}

func (f *fakeService) RunSelfTests(context.Context) map[safety.SystemType]*safety.TestReport {
	return map[safety.SystemType]*safety.TestReport{
		safety.SystemCCTV: {
			System:  safety.SystemCCTV,
			Overall: safety.TestFail,
			Failed:  1,
			Devices: []safety.DeviceResult{{Device: "CAM001", Passed: false, ResponseTime: 150 * time.Millisecond}},
		},
	}
}

func (f *fakeService) TriggerSubsystem(
	_ context.Context,
	system safety.SystemType,
	req safety.TriggerRequest,
) (*safety.Result, error) {
	return &safety.Result{Success: true, System: system, Target: req.Target, Message: req.Reason, Details: req.Params}, nil
}

func (f *fakeService) ResetSubsystem(_ context.Context, system safety.SystemType, target string) (*safety.Result, error) {
	return &safety.Result{Success: true, System: system, Action: safety.ActionReset, Target: target}, nil
}

func (f *fakeService) TestSubsystem(_ context.Context, system safety.SystemType) (*safety.TestReport, error) {
	return &safety.TestReport{System: system, Overall: safety.TestPass}, nil
}

func (f *fakeService) SubsystemStatus(_ context.Context, system safety.SystemType) (*safety.SubsystemState, error) {
	if system == safety.SystemSafetyManager {
		return nil, fmt.Errorf("subsystem %s: %w", system, safety.ErrUnavailable)
	}

	return &safety.SubsystemState{System: system, Status: safety.StatusNormal, PerformanceScore: 100}, nil
}

func (f *fakeService) OperateSubsystem(
	_ context.Context,
	system safety.SystemType,
	operation string,
	params safety.Payload,
) (*safety.Result, error) {
	if operation != coordinator.OpRestartMachinery {
		return nil, fmt.Errorf("%s operation %q: %w", system, operation, safety.ErrNotFound)
	}

	machine, ok := params.String("machine")
	if !ok {
		return nil, fmt.Errorf("%w: machine is required", coordinator.ErrInvalidParam)
	}

	return &safety.Result{Success: true, System: system, Action: operation, Target: machine}, nil
}

func (f *fakeService) EmergencyProcedures(context.Context) (*estop.Procedures, error) {
	return &estop.Procedures{
		Steps:    map[string][]string{"fire": {"Sound alarm", "Muster crew"}},
		Contacts: []estop.Contact{{Role: "Master", Location: "bridge", Priority: 1}},
	}, nil
}

func (f *fakeService) Subscribe() (<-chan safety.Notification, func(), error) {
	return f.updates, func() {}, nil
}

// startServer serves the fake over a loopback listener and returns a connected client.
func startServer(t *testing.T, service Service, opts ...Option) *Client {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	NewServer(service).Register(server)

	go func() {
		_ = server.Serve(listener)
	}()

	t.Cleanup(server.Stop)

	client, err := Dial(context.Background(), listener.Addr().String(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return client
}

// TestServer_Validation ensures malformed requests return InvalidArgument errors.
func TestServer_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(newFakeService())
	ctx := context.Background()

	_, err := s.call(ctx, MethodTriggerFireAlarm, nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	tests := []struct {
		name   string
		method string
		fields map[string]any
	}{
		{name: "zone not a string", method: MethodTriggerFireAlarm, fields: map[string]any{"zone": 3}},
		{name: "hours not a number", method: MethodGetRecentEvents, fields: map[string]any{"hours": "many"}},
		{name: "unknown system", method: MethodTestSubsystem, fields: map[string]any{"system": "radar"}},
		{name: "missing system", method: MethodResetSubsystem, fields: map[string]any{}},
		{name: "bad since", method: MethodGetEventHistory, fields: map[string]any{"since": "yesterday"}},
		{name: "negative limit", method: MethodGetEventHistory, fields: map[string]any{"limit": -1}},
		{name: "operator not an object", method: MethodGetSystemStatus, fields: map[string]any{"operator": "root"}},
		{name: "missing operation", method: MethodOperateSubsystem, fields: map[string]any{"system": "emergency_stop"}},
		{name: "params not an object", method: MethodOperateSubsystem, fields: map[string]any{
			"system": "emergency_stop", "operation": "restart_machinery", "params": "main_engine",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in, err := structpb.NewStruct(tt.fields)
			require.NoError(t, err)

			_, err = s.call(ctx, tt.method, in)
			require.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}

	_, err = s.call(ctx, "Reboot", new(structpb.Struct))
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

// TestServer_DomainErrorsAreData verifies domain failures come back as failed envelopes.
func TestServer_DomainErrorsAreData(t *testing.T) {
	t.Parallel()

	s := NewServer(newFakeService())

	in, err := structpb.NewStruct(map[string]any{"zone": "lifeboat"})
	require.NoError(t, err)

	out, err := s.call(context.Background(), MethodTriggerFireAlarm, in)
	require.NoError(t, err)
	require.False(t, out.GetFields()["success"].GetBoolValue())
	require.Equal(t, CodeNotFound, out.GetFields()["code"].GetStringValue())
	require.Contains(t, out.GetFields()["error"].GetStringValue(), "lifeboat")
}

// TestClient_Roundtrip exercises every command end-to-end over a real listener.
func TestClient_Roundtrip(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	client := startServer(t, service, WithOperator(&safety.Operator{Hostname: "bridge-01", Username: "officer"}))
	ctx := context.Background()

	result, err := client.TriggerFireAlarm(ctx, "engine_room")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, []string{"FD-ER-001"}, result.Affected)
	require.Equal(t, true, result.Details["evacuation_ordered"])

	service.mu.Lock()
	require.Equal(t, "officer", service.operators[0].Username)
	require.Equal(t, "bridge-01", service.operators[0].Hostname)
	service.mu.Unlock()

	_, err = client.TriggerFireAlarm(ctx, "lifeboat")
	require.ErrorIs(t, err, safety.ErrNotFound)

	_, err = client.TriggerFireAlarm(ctx, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), coordinator.ErrZoneRequired.Error())

	stop, err := client.TriggerEmergencyStop(ctx, "")
	require.NoError(t, err)
	require.Empty(t, stop.Target)

	event, err := client.TriggerManOverboard(ctx, map[string]any{"lat": 59.1, "lon": 10.5})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"lat": 59.1, "lon": 10.5}, event.Payload["position"])

	reported, err := client.ReportEvent(ctx, safety.SystemCCTV, "security_breach", map[string]any{"zone": "galley"})
	require.NoError(t, err)
	require.Equal(t, safety.SystemCCTV, reported.Source)
	require.Equal(t, "galley", reported.Payload["zone"])

	report, err := client.ResetAllSystems(ctx)
	require.NoError(t, err)
	require.Equal(t, []safety.SystemType{safety.SystemPAGA}, report.SystemsReset)

	shipStatus, err := client.GetSystemStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, safety.ShipAlarm, shipStatus.ShipStatus)
	require.InDelta(t, 92.5, shipStatus.OverallHealth, 0.001)
	require.Equal(t, 1, shipStatus.Subsystems[safety.SystemPAGA].ActiveSessions)
	require.Equal(t, 3, shipStatus.QueueLength)

	recent, err := client.GetRecentEvents(ctx, 6)
	require.NoError(t, err)
	require.InDelta(t, 6, recent.TimeframeHours, 0)

	_, err = client.GetEventHistory(ctx, time.Now().Add(-time.Hour), 10)
	require.ErrorIs(t, err, safety.ErrUnavailable)

	_, err = client.GetComplianceStatus(ctx)
	require.ErrorIs(t, err, safety.ErrUnavailable)

	tests, err := client.RunSelfTests(ctx)
	require.NoError(t, err)
	require.Equal(t, safety.TestFail, tests[safety.SystemCCTV].Overall)
	require.Equal(t, 150*time.Millisecond, tests[safety.SystemCCTV].Devices[0].ResponseTime)

	direct, err := client.TriggerSubsystem(ctx, safety.SystemPAGA, "bridge", "abandon_ship", map[string]any{"message": "drill"})
	require.NoError(t, err)
	require.Equal(t, "abandon_ship", direct.Message)
	require.Equal(t, "drill", direct.Details["message"])

	reset, err := client.ResetSubsystem(ctx, safety.SystemPAGA, "all_zones")
	require.NoError(t, err)
	require.Equal(t, "all_zones", reset.Target)

	test, err := client.TestSubsystem(ctx, safety.SystemFireDetection)
	require.NoError(t, err)
	require.Equal(t, safety.TestPass, test.Overall)

	state, err := client.GetSubsystemStatus(ctx, safety.SystemCompliance)
	require.NoError(t, err)
	require.InDelta(t, 100, state.PerformanceScore, 0)

	_, err = client.GetSubsystemStatus(ctx, safety.SystemSafetyManager)
	require.ErrorIs(t, err, safety.ErrUnavailable)
}

// TestClient_OperateSubsystem verifies named operations and procedures over the wire.
func TestClient_OperateSubsystem(t *testing.T) {
	t.Parallel()

	client := startServer(t, newFakeService())
	ctx := context.Background()

	result, err := client.OperateSubsystem(ctx, safety.SystemEmergencyStop, coordinator.OpRestartMachinery,
		map[string]any{"zone": "engine_room", "machine": "main_engine"})
	require.NoError(t, err)
	require.Equal(t, coordinator.OpRestartMachinery, result.Action)
	require.Equal(t, "main_engine", result.Target)

	_, err = client.OperateSubsystem(ctx, safety.SystemEmergencyStop, coordinator.OpRestartMachinery,
		map[string]any{"zone": "engine_room"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "machine is required")

	_, err = client.OperateSubsystem(ctx, safety.SystemCCTV, "self_destruct", nil)
	require.ErrorIs(t, err, safety.ErrNotFound)

	procedures, err := client.GetEmergencyProcedures(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Sound alarm", "Muster crew"}, procedures.Steps["fire"])
	require.Equal(t, "Master", procedures.Contacts[0].Role)
}

// TestClient_Subscribe verifies notifications are streamed until the server ends the stream.
func TestClient_Subscribe(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	client := startServer(t, service)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)

	defer sub.Close()

	sent := safety.Notification{
		EventID:    "evt-1",
		Source:     safety.SystemFireDetection,
		Kind:       "fire_alarm",
		Timestamp:  time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC),
		Processed:  true,
		ShipStatus: safety.ShipEmergency,
	}

	service.updates <- sent

	received, err := sub.Recv()
	require.NoError(t, err)
	require.Equal(t, sent.EventID, received.EventID)
	require.Equal(t, sent.ShipStatus, received.ShipStatus)
	require.True(t, sent.Timestamp.Equal(received.Timestamp))

	close(service.updates)

	_, err = sub.Recv()
	require.True(t, errors.Is(err, io.EOF), "unexpected error: %v", err)
}

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{callTimeout: 0}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}
