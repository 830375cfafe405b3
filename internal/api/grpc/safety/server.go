package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
)

// Service abstracts the coordinator operations the transport layer depends on.
type Service interface {
	TriggerEmergencyStop(ctx context.Context, zone string) (*safety.Result, error)
	TriggerFireAlarm(ctx context.Context, zone string) (*safety.Result, error)
	TriggerManOverboard(ctx context.Context, position any) (*safety.SystemEvent, error)
	ReportEvent(
		ctx context.Context,
		source safety.SystemType,
		kind string,
		payload safety.Payload,
	) (*safety.SystemEvent, error)
	ResetAllSystems(ctx context.Context) (*coordinator.ResetReport, error)
	GetSystemStatus(ctx context.Context) *coordinator.SystemStatus
	GetRecentEvents(ctx context.Context, hours float64) *coordinator.RecentEvents
	EventHistory(ctx context.Context, since time.Time, limit int) ([]*safety.SystemEvent, error)
	GetComplianceStatus(ctx context.Context) (*coordinator.ComplianceStatus, error)
	RunSelfTests(ctx context.Context) map[safety.SystemType]*safety.TestReport
	TriggerSubsystem(ctx context.Context, system safety.SystemType, req safety.TriggerRequest) (*safety.Result, error)
	ResetSubsystem(ctx context.Context, system safety.SystemType, target string) (*safety.Result, error)
	TestSubsystem(ctx context.Context, system safety.SystemType) (*safety.TestReport, error)
	SubsystemStatus(ctx context.Context, system safety.SystemType) (*safety.SubsystemState, error)
	OperateSubsystem(
		ctx context.Context,
		system safety.SystemType,
		operation string,
		params safety.Payload,
	) (*safety.Result, error)
	EmergencyProcedures(ctx context.Context) (*estop.Procedures, error)
	Subscribe() (<-chan safety.Notification, func(), error)
}

// Server implements the SafetyService gRPC API.
type Server struct {
	// service provides the coordinator operations.
	service Service
	// methods maps RPC names to their implementations.
	methods map[string]func(ctx context.Context, req request) (any, error)
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	s := &Server{service: service}

	s.methods = map[string]func(ctx context.Context, req request) (any, error){
		MethodTriggerEmergencyStop: s.triggerEmergencyStop,
		MethodTriggerFireAlarm:     s.triggerFireAlarm,
		MethodTriggerManOverboard:  s.triggerManOverboard,
		MethodReportEvent:          s.reportEvent,
		MethodResetAllSystems:      s.resetAllSystems,
		MethodGetSystemStatus:      s.getSystemStatus,
		MethodGetRecentEvents:      s.getRecentEvents,
		MethodGetEventHistory:      s.getEventHistory,
		MethodGetComplianceStatus:  s.getComplianceStatus,
		MethodRunSelfTests:         s.runSelfTests,
		MethodTriggerSubsystem:     s.triggerSubsystem,
		MethodResetSubsystem:       s.resetSubsystem,
		MethodTestSubsystem:        s.testSubsystem,
		MethodGetSubsystemStatus:   s.getSubsystemStatus,
		MethodOperateSubsystem:     s.operateSubsystem,
		MethodGetProcedures:        s.getProcedures,
	}

	return s
}

// Register attaches the server to a gRPC registrar.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(serviceDesc(), s)
}

// call decodes the request, attaches the operator and wraps the outcome in an envelope.
func (s *Server) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	impl, ok := s.methods[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s is not implemented", method)
	}

	req := newRequest(in)

	ctx, err := withOperator(ctx, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := impl(ctx, req)

	switch {
	case err == nil:
	case errors.Is(err, errMalformed):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	default:
		logger.WarnKV(ctx, "Command failed", "method", method, "error", err)

		reply, encodeErr := failureReply(err)
		if encodeErr != nil {
			return nil, status.Error(codes.Internal, encodeErr.Error())
		}

		return reply, nil
	}

	reply, err := successReply(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return reply, nil
}

// subscribe streams notifications until the client goes away or the notifier closes.
func (s *Server) subscribe(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()

	if _, err := withOperator(ctx, newRequest(in)); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	updates, cancel, err := s.service.Subscribe()
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}

	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification, ok := <-updates:
			if !ok {
				return nil
			}

			msg, err := toStruct(notification)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}

			if err = stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func withOperator(ctx context.Context, req request) (context.Context, error) {
	op, err := req.operator()
	if err != nil {
		return ctx, err
	}

	if op == nil {
		return ctx, nil
	}

	return safety.ContextWithOperator(ctx, op), nil
}

func (s *Server) triggerEmergencyStop(ctx context.Context, req request) (any, error) {
	zone, err := req.text("zone")
	if err != nil {
		return nil, err
	}

	return s.service.TriggerEmergencyStop(ctx, zone)
}

func (s *Server) triggerFireAlarm(ctx context.Context, req request) (any, error) {
	zone, err := req.text("zone")
	if err != nil {
		return nil, err
	}

	return s.service.TriggerFireAlarm(ctx, zone)
}

func (s *Server) triggerManOverboard(ctx context.Context, req request) (any, error) {
	return s.service.TriggerManOverboard(ctx, req["position"])
}

func (s *Server) reportEvent(ctx context.Context, req request) (any, error) {
	source, err := req.system("source_system", false)
	if err != nil {
		return nil, err
	}

	kind, err := req.text("event_type")
	if err != nil {
		return nil, err
	}

	payload, err := req.object("payload")
	if err != nil {
		return nil, err
	}

	return s.service.ReportEvent(ctx, source, kind, payload)
}

func (s *Server) resetAllSystems(ctx context.Context, _ request) (any, error) {
	return s.service.ResetAllSystems(ctx)
}

func (s *Server) getSystemStatus(ctx context.Context, _ request) (any, error) {
	return s.service.GetSystemStatus(ctx), nil
}

func (s *Server) getRecentEvents(ctx context.Context, req request) (any, error) {
	hours, _, err := req.number("hours")
	if err != nil {
		return nil, err
	}

	return s.service.GetRecentEvents(ctx, hours), nil
}

func (s *Server) getEventHistory(ctx context.Context, req request) (any, error) {
	since, err := req.timestamp("since")
	if err != nil {
		return nil, err
	}

	limit, _, err := req.number("limit")
	if err != nil {
		return nil, err
	}

	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", errMalformed)
	}

	events, err := s.service.EventHistory(ctx, since, int(limit))
	if err != nil {
		return nil, err
	}

	return map[string]any{"events": events, "total_events": len(events)}, nil
}

func (s *Server) getComplianceStatus(ctx context.Context, _ request) (any, error) {
	return s.service.GetComplianceStatus(ctx)
}

func (s *Server) runSelfTests(ctx context.Context, _ request) (any, error) {
	return s.service.RunSelfTests(ctx), nil
}

func (s *Server) triggerSubsystem(ctx context.Context, req request) (any, error) {
	system, err := req.system("system", true)
	if err != nil {
		return nil, err
	}

	target, err := req.text("target")
	if err != nil {
		return nil, err
	}

	reason, err := req.text("reason")
	if err != nil {
		return nil, err
	}

	params, err := req.object("params")
	if err != nil {
		return nil, err
	}

	return s.service.TriggerSubsystem(ctx, system, safety.TriggerRequest{
		Target: target,
		Reason: reason,
		Params: params,
	})
}

func (s *Server) resetSubsystem(ctx context.Context, req request) (any, error) {
	system, err := req.system("system", true)
	if err != nil {
		return nil, err
	}

	target, err := req.text("target")
	if err != nil {
		return nil, err
	}

	return s.service.ResetSubsystem(ctx, system, target)
}

func (s *Server) testSubsystem(ctx context.Context, req request) (any, error) {
	system, err := req.system("system", true)
	if err != nil {
		return nil, err
	}

	return s.service.TestSubsystem(ctx, system)
}

func (s *Server) getSubsystemStatus(ctx context.Context, req request) (any, error) {
	system, err := req.system("system", true)
	if err != nil {
		return nil, err
	}

	return s.service.SubsystemStatus(ctx, system)
}

func (s *Server) operateSubsystem(ctx context.Context, req request) (any, error) {
	system, err := req.system("system", true)
	if err != nil {
		return nil, err
	}

	operation, err := req.text("operation")
	if err != nil {
		return nil, err
	}

	if operation == "" {
		return nil, fmt.Errorf("%w: operation is required", errMalformed)
	}

	params, err := req.object("params")
	if err != nil {
		return nil, err
	}

	return s.service.OperateSubsystem(ctx, system, operation, params)
}

func (s *Server) getProcedures(ctx context.Context, _ request) (any, error) {
	return s.service.EmergencyProcedures(ctx)
}
