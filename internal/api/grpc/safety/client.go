package safety

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
)

// Client wraps a connection to the safety server with typed helpers.
type Client struct {
	// conn is the underlying gRPC connection.
	conn *grpc.ClientConn
	// operator is attached to every request.
	operator *safety.Operator
	// callTimeout is the default timeout for unary calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithOperator attaches the operator to every request.
func WithOperator(op *safety.Operator) Option {
	return func(c *Client) {
		c.operator = op.Clone()
	}
}

// errAddressRequired is returned when no server address is given.
var errAddressRequired = errors.New("address must be provided")

// Dial connects to the safety server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial safety server: %w", err)
	}

	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// TriggerEmergencyStop stops machinery in zone, or everywhere when zone is empty.
func (c *Client) TriggerEmergencyStop(ctx context.Context, zone string) (*safety.Result, error) {
	return invoke[*safety.Result](ctx, c, MethodTriggerEmergencyStop, map[string]any{"zone": zone})
}

// TriggerFireAlarm raises a fire alarm in zone.
func (c *Client) TriggerFireAlarm(ctx context.Context, zone string) (*safety.Result, error) {
	return invoke[*safety.Result](ctx, c, MethodTriggerFireAlarm, map[string]any{"zone": zone})
}

// TriggerManOverboard reports a person overboard at position.
func (c *Client) TriggerManOverboard(ctx context.Context, position any) (*safety.SystemEvent, error) {
	return invoke[*safety.SystemEvent](ctx, c, MethodTriggerManOverboard, map[string]any{"position": position})
}

// ReportEvent queues an externally observed event.
func (c *Client) ReportEvent(
	ctx context.Context,
	source safety.SystemType,
	kind string,
	payload map[string]any,
) (*safety.SystemEvent, error) {
	return invoke[*safety.SystemEvent](ctx, c, MethodReportEvent, map[string]any{
		"source_system": string(source),
		"event_type":    kind,
		"payload":       payload,
	})
}

// ResetAllSystems resets every subsystem and waits for the outcome.
func (c *Client) ResetAllSystems(ctx context.Context) (*coordinator.ResetReport, error) {
	return invoke[*coordinator.ResetReport](ctx, c, MethodResetAllSystems, nil)
}

// GetSystemStatus returns the ship-wide status.
func (c *Client) GetSystemStatus(ctx context.Context) (*coordinator.SystemStatus, error) {
	return invoke[*coordinator.SystemStatus](ctx, c, MethodGetSystemStatus, nil)
}

// GetRecentEvents returns events from the last hours.
func (c *Client) GetRecentEvents(ctx context.Context, hours float64) (*coordinator.RecentEvents, error) {
	return invoke[*coordinator.RecentEvents](ctx, c, MethodGetRecentEvents, map[string]any{"hours": hours})
}

// EventHistory is the archived history reply.
type EventHistory struct {
	Events      []*safety.SystemEvent `json:"events"`
	TotalEvents int                   `json:"total_events"`
}

// GetEventHistory reads the archive from since, newest first.
func (c *Client) GetEventHistory(ctx context.Context, since time.Time, limit int) (*EventHistory, error) {
	args := map[string]any{"limit": limit}
	if !since.IsZero() {
		args["since"] = since.UTC().Format(time.RFC3339Nano)
	}

	return invoke[*EventHistory](ctx, c, MethodGetEventHistory, args)
}

// GetComplianceStatus returns the compliance report and certificates.
func (c *Client) GetComplianceStatus(ctx context.Context) (*coordinator.ComplianceStatus, error) {
	return invoke[*coordinator.ComplianceStatus](ctx, c, MethodGetComplianceStatus, nil)
}

// RunSelfTests tests every subsystem.
func (c *Client) RunSelfTests(ctx context.Context) (map[safety.SystemType]*safety.TestReport, error) {
	return invoke[map[safety.SystemType]*safety.TestReport](ctx, c, MethodRunSelfTests, nil)
}

// TriggerSubsystem calls Trigger on one subsystem directly.
func (c *Client) TriggerSubsystem(
	ctx context.Context,
	system safety.SystemType,
	target, reason string,
	params map[string]any,
) (*safety.Result, error) {
	return invoke[*safety.Result](ctx, c, MethodTriggerSubsystem, map[string]any{
		"system": string(system),
		"target": target,
		"reason": reason,
		"params": params,
	})
}

// ResetSubsystem calls Reset on one subsystem directly.
func (c *Client) ResetSubsystem(ctx context.Context, system safety.SystemType, target string) (*safety.Result, error) {
	return invoke[*safety.Result](ctx, c, MethodResetSubsystem, map[string]any{
		"system": string(system),
		"target": target,
	})
}

// TestSubsystem runs the self-test of one subsystem.
func (c *Client) TestSubsystem(ctx context.Context, system safety.SystemType) (*safety.TestReport, error) {
	return invoke[*safety.TestReport](ctx, c, MethodTestSubsystem, map[string]any{"system": string(system)})
}

// GetSubsystemStatus returns the state of one subsystem.
func (c *Client) GetSubsystemStatus(ctx context.Context, system safety.SystemType) (*safety.SubsystemState, error) {
	return invoke[*safety.SubsystemState](ctx, c, MethodGetSubsystemStatus, map[string]any{"system": string(system)})
}

// OperateSubsystem runs a named operation on one subsystem.
func (c *Client) OperateSubsystem(
	ctx context.Context,
	system safety.SystemType,
	operation string,
	params map[string]any,
) (*safety.Result, error) {
	return invoke[*safety.Result](ctx, c, MethodOperateSubsystem, map[string]any{
		"system":    string(system),
		"operation": operation,
		"params":    params,
	})
}

// GetEmergencyProcedures returns the configured procedures and contacts.
func (c *Client) GetEmergencyProcedures(ctx context.Context) (*estop.Procedures, error) {
	return invoke[*estop.Procedures](ctx, c, MethodGetProcedures, nil)
}

// Subscription is an open notification stream.
type Subscription struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Subscribe opens the notification stream. The call timeout does not apply.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	in, err := c.request(nil)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := c.conn.NewStream(streamCtx, &subscribeStream, fullMethod(MethodSubscribe))
	if err != nil {
		cancel()

		return nil, fmt.Errorf("subscribe: %w", err)
	}

	if err = stream.SendMsg(in); err != nil {
		cancel()

		return nil, fmt.Errorf("subscribe: %w", err)
	}

	if err = stream.CloseSend(); err != nil {
		cancel()

		return nil, fmt.Errorf("subscribe: %w", err)
	}

	return &Subscription{stream: stream, cancel: cancel}, nil
}

// Recv blocks for the next notification. It returns io.EOF once the server ends the stream.
func (s *Subscription) Recv() (safety.Notification, error) {
	var notification safety.Notification

	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return notification, io.EOF
		}

		return notification, fmt.Errorf("receive notification: %w", err)
	}

	if err := fromStruct(msg, &notification); err != nil {
		return notification, err
	}

	return notification, nil
}

// Close ends the stream.
func (s *Subscription) Close() {
	s.cancel()
}

// invoke performs one unary call and unwraps the envelope into T.
func invoke[T any](ctx context.Context, c *Client, method string, args map[string]any) (T, error) {
	var result T

	in, err := c.request(args)
	if err != nil {
		return result, err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err = c.conn.Invoke(callCtx, fullMethod(method), in, out); err != nil {
		return result, fmt.Errorf("%s: %w", method, err)
	}

	var reply envelope
	if err = fromStruct(out, &reply); err != nil {
		return result, err
	}

	if !reply.Success {
		return result, fmt.Errorf("%s: %w", method, codeError(reply.Code, reply.Error))
	}

	if len(reply.Result) == 0 {
		return result, nil
	}

	if err = json.Unmarshal(reply.Result, &result); err != nil {
		return result, fmt.Errorf("%s: %w", method, err)
	}

	return result, nil
}

// request builds the request Struct with the operator attached.
func (c *Client) request(args map[string]any) (*structpb.Struct, error) {
	fields := make(map[string]any, len(args)+1)
	maps.Copy(fields, args)

	if op := operatorFields(c.operator); op != nil {
		fields["operator"] = op
	}

	return toStruct(fields)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
