package safety

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "shipsafety.v1.SafetyService"

// RPC method names.
const (
	MethodTriggerEmergencyStop = "TriggerEmergencyStop"
	MethodTriggerFireAlarm     = "TriggerFireAlarm"
	MethodTriggerManOverboard  = "TriggerManOverboard"
	MethodReportEvent          = "ReportEvent"
	MethodResetAllSystems      = "ResetAllSystems"
	MethodGetSystemStatus      = "GetSystemStatus"
	MethodGetRecentEvents      = "GetRecentEvents"
	MethodGetEventHistory      = "GetEventHistory"
	MethodGetComplianceStatus  = "GetComplianceStatus"
	MethodRunSelfTests         = "RunSelfTests"
	MethodTriggerSubsystem     = "TriggerSubsystem"
	MethodResetSubsystem       = "ResetSubsystem"
	MethodTestSubsystem        = "TestSubsystem"
	MethodGetSubsystemStatus   = "GetSubsystemStatus"
	MethodOperateSubsystem     = "OperateSubsystem"
	MethodGetProcedures        = "GetEmergencyProcedures"
	MethodSubscribe            = "Subscribe"
)

// unaryMethods lists every unary RPC in registration order.
//
//nolint:gochecknoglobals // Immutable method table.
var unaryMethods = []string{
	MethodTriggerEmergencyStop,
	MethodTriggerFireAlarm,
	MethodTriggerManOverboard,
	MethodReportEvent,
	MethodResetAllSystems,
	MethodGetSystemStatus,
	MethodGetRecentEvents,
	MethodGetEventHistory,
	MethodGetComplianceStatus,
	MethodRunSelfTests,
	MethodTriggerSubsystem,
	MethodResetSubsystem,
	MethodTestSubsystem,
	MethodGetSubsystemStatus,
	MethodOperateSubsystem,
	MethodGetProcedures,
}

// handler is implemented by *Server; grpc checks it on registration.
type handler interface {
	call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
	subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

// subscribeStream describes the notification stream for both sides.
//
//nolint:gochecknoglobals // Shared by the descriptor and the client.
var subscribeStream = grpc.StreamDesc{
	StreamName:    MethodSubscribe,
	Handler:       subscribeHandler,
	ServerStreams: true,
}

func serviceDesc() *grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(unaryMethods))
	for _, name := range unaryMethods {
		methods = append(methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name),
		})
	}

	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*handler)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{subscribeStream},
		Metadata:    "shipsafety/v1/safety.proto",
	}
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		h, _ := srv.(handler)

		if interceptor == nil {
			return h.call(ctx, method, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}

		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			typed, _ := req.(*structpb.Struct)

			return h.call(ctx, method, typed)
		})
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	h, _ := srv.(handler)

	return h.subscribe(in, stream)
}
