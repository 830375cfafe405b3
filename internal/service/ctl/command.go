package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"

	api "github.com/oshokin/ship-safety/internal/api/grpc/safety"
	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
)

// Options configures the connection used by every safety-ctl command.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides server address from config when specified.
	ServerAddress string
	// Timeout overrides the per-call timeout from config when positive.
	Timeout time.Duration
	// Output receives rendered replies; stdout when nil.
	Output io.Writer
	// Verbose keeps informational logs, otherwise only warnings and errors are logged.
	Verbose bool
}

// DefaultReconnectInterval is the delay before watch reopens a broken stream.
const DefaultReconnectInterval = 2 * time.Second

// Session is an operator connection to the safety server.
type Session struct {
	// client is the typed gRPC client.
	client *api.Client
	// out receives rendered replies.
	out io.Writer
	// address is the dialed server address.
	address string
	// logLevel is the minimum level of session logs.
	logLevel zapcore.Level
}

// Connect loads settings, detects the operator and dials the server.
func Connect(ctx context.Context, opts *Options) (*Session, error) {
	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	timeout := cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	// Identify current user and hostname for the audit trail.
	operator, err := DetectOperator()
	if err != nil {
		return nil, fmt.Errorf("detect operator: %w", err)
	}

	client, err := api.Dial(ctx, serverAddress, api.WithCallTimeout(timeout), api.WithOperator(operator))
	if err != nil {
		return nil, fmt.Errorf("dial server: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logLevel := zapcore.WarnLevel
	if opts.Verbose {
		logLevel = zapcore.DebugLevel
	}

	return &Session{client: client, out: out, address: serverAddress, logLevel: logLevel}, nil
}

// NewSession wraps an existing client.
func NewSession(client *api.Client, out io.Writer) *Session {
	return &Session{client: client, out: out, logLevel: zapcore.InfoLevel}
}

// Close releases the connection.
func (s *Session) Close() error {
	return s.client.Close()
}

func (s *Session) print(text string) error {
	if text == "" {
		return nil
	}

	_, err := fmt.Fprintln(s.out, text)

	return err
}

// printResult renders an adapter outcome; an unsuccessful one is also an error.
func (s *Session) printResult(result *safety.Result) error {
	if err := s.print(renderResult(result)); err != nil {
		return err
	}

	if result != nil && !result.Success {
		return fmt.Errorf("%s %s: %s", result.System, result.Action, result.Error)
	}

	return nil
}

// Status prints the ship-wide status.
func (s *Session) Status(ctx context.Context) error {
	status, err := s.client.GetSystemStatus(ctx)
	if err != nil {
		return err
	}

	return s.print(renderStatus(status))
}

// EmergencyStop stops machinery in zone, or everywhere when zone is empty.
func (s *Session) EmergencyStop(ctx context.Context, zone string) error {
	result, err := s.client.TriggerEmergencyStop(ctx, zone)
	if err != nil {
		return err
	}

	return s.printResult(result)
}

// FireAlarm raises a fire alarm in zone.
func (s *Session) FireAlarm(ctx context.Context, zone string) error {
	result, err := s.client.TriggerFireAlarm(ctx, zone)
	if err != nil {
		return err
	}

	return s.printResult(result)
}

// ManOverboard reports a person overboard at position.
func (s *Session) ManOverboard(ctx context.Context, position string) error {
	var pos any = position
	if position == "" {
		pos = nil
	}

	event, err := s.client.TriggerManOverboard(ctx, pos)
	if err != nil {
		return err
	}

	return s.print(renderEvent(event))
}

// Report queues an externally observed event.
func (s *Session) Report(ctx context.Context, source safety.SystemType, kind string, payload map[string]any) error {
	event, err := s.client.ReportEvent(ctx, source, kind, payload)
	if err != nil {
		return err
	}

	return s.print(renderEvent(event))
}

// ResetAll resets every subsystem and prints the outcome.
func (s *Session) ResetAll(ctx context.Context) error {
	report, err := s.client.ResetAllSystems(ctx)
	if err != nil {
		return err
	}

	return s.print(renderReset(report))
}

// Events prints events from the last hours.
func (s *Session) Events(ctx context.Context, hours float64) error {
	recent, err := s.client.GetRecentEvents(ctx, hours)
	if err != nil {
		return err
	}

	return s.print(renderRecent(recent))
}

// History prints archived events since the given time.
func (s *Session) History(ctx context.Context, since time.Time, limit int) error {
	history, err := s.client.GetEventHistory(ctx, since, limit)
	if err != nil {
		return err
	}

	return s.print(renderHistory(history))
}

// Compliance prints the compliance report and certificate validity.
func (s *Session) Compliance(ctx context.Context) error {
	status, err := s.client.GetComplianceStatus(ctx)
	if err != nil {
		return err
	}

	return s.print(renderCompliance(status))
}

// SelfTest tests every subsystem.
func (s *Session) SelfTest(ctx context.Context) error {
	reports, err := s.client.RunSelfTests(ctx)
	if err != nil {
		return err
	}

	return s.print(renderTests(reports))
}

// Trigger calls Trigger on one subsystem.
func (s *Session) Trigger(
	ctx context.Context,
	system safety.SystemType,
	target, reason string,
	params map[string]any,
) error {
	result, err := s.client.TriggerSubsystem(ctx, system, target, reason, params)
	if err != nil {
		return err
	}

	return s.printResult(result)
}

// Reset calls Reset on one subsystem.
func (s *Session) Reset(ctx context.Context, system safety.SystemType, target string) error {
	result, err := s.client.ResetSubsystem(ctx, system, target)
	if err != nil {
		return err
	}

	return s.printResult(result)
}

// Test runs the self-test of one subsystem.
func (s *Session) Test(ctx context.Context, system safety.SystemType) error {
	report, err := s.client.TestSubsystem(ctx, system)
	if err != nil {
		return err
	}

	return s.print(renderTest(report))
}

// Operate runs a named operation on one subsystem.
func (s *Session) Operate(
	ctx context.Context,
	system safety.SystemType,
	operation string,
	params map[string]any,
) error {
	result, err := s.client.OperateSubsystem(ctx, system, operation, params)
	if err != nil {
		return err
	}

	return s.printResult(result)
}

// Procedures prints the emergency procedures and contacts.
func (s *Session) Procedures(ctx context.Context) error {
	procedures, err := s.client.GetEmergencyProcedures(ctx)
	if err != nil {
		return err
	}

	return s.print(renderProcedures(procedures))
}

// Subsystem prints the state of one subsystem.
func (s *Session) Subsystem(ctx context.Context, system safety.SystemType) error {
	state, err := s.client.GetSubsystemStatus(ctx, system)
	if err != nil {
		return err
	}

	return s.print(renderSubsystem(state))
}

// Watch prints notifications until ctx is canceled, reopening the stream
// after the server goes away.
func (s *Session) Watch(ctx context.Context, reconnect time.Duration) error {
	// Set context with logger name for tracking.
	ctx = logger.WithMinLevel(logger.WithName(ctx, "safety-ctl"), s.logLevel)

	if reconnect <= 0 {
		reconnect = DefaultReconnectInterval
	}

	logger.InfoKV(ctx, "Watching ship notifications", "server_address", s.address)

	// Setup reconnect ticker with fixed interval.
	ticker := time.NewTicker(reconnect)
	defer ticker.Stop()

	for {
		err := s.follow(ctx)

		switch {
		case ctx.Err() != nil:
			logger.Info(ctx, "Context canceled, exiting")

			return nil
		case err != nil:
			logger.ErrorKV(ctx, "Notification stream failed", "error", err)
		default:
			logger.Info(ctx, "Notification stream ended")
		}

		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")

			return nil
		case <-ticker.C:
		}
	}
}

// follow prints one subscription until it ends.
func (s *Session) follow(ctx context.Context) error {
	subscription, err := s.client.Subscribe(ctx)
	if err != nil {
		return err
	}

	defer subscription.Close()

	for {
		notification, err := subscription.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		if err = s.print(renderNotification(notification)); err != nil {
			return err
		}
	}
}
