package server

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// The fully qualified gRPC service name.
	PiServiceName = "machin.v1.PiService"
	// The full method name of the GetPi RPC.
	GetPiFullMethod = "/" + PiServiceName + "/GetPi"
)

// PiServiceServer is the gRPC service implemented by MachinServer. Requests
// and responses are google.protobuf.Struct messages with the same fields as
// the REST payloads.
type PiServiceServer interface {
	ServeGetPi(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Describes the PiService for grpc.Server registration.
var PiServiceDesc = grpc.ServiceDesc{
	ServiceName: PiServiceName,
	HandlerType: (*PiServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetPi",
			Handler:    getPiHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func getPiHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PiServiceServer).ServeGetPi(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetPiFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PiServiceServer).ServeGetPi(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Extracts the digit count and guard flag from a GetPi request.
func parseRequest(in *structpb.Struct) (int, bool, error) {
	value, ok := in.GetFields()["digits"]
	if !ok {
		return 0, false, status.Error(codes.InvalidArgument, "digits is required") //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok || number.NumberValue != math.Trunc(number.NumberValue) || math.Abs(number.NumberValue) > math.MaxInt32 {
		return 0, false, status.Error(codes.InvalidArgument, fmt.Sprintf("digits must be an integer: %v", value.AsInterface())) //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
	var guard bool
	if value, ok := in.GetFields()["guard"]; ok {
		b, ok := value.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return 0, false, status.Error(codes.InvalidArgument, fmt.Sprintf("guard must be a boolean: %v", value.AsInterface())) //nolint:wrapcheck // Errors returned should be gRPC statuses
		}
		guard = b.BoolValue
	}
	return int(number.NumberValue), guard, nil
}

// Implement the PiService GetPi RPC method.
func (s *MachinServer) ServeGetPi(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	digits, guard, err := parseRequest(in)
	if err != nil {
		return nil, err
	}
	result, err := s.GetPi(ctx, digits, guard)
	if err != nil {
		return nil, err
	}
	payload, err := s.payload(digits, guard, result)
	if err != nil {
		return nil, err
	}
	response, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error()) //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
	return response, nil
}

// Create a new grpc.Server that is ready to be attached to a net.Listener.
func (s *MachinServer) NewGrpcServer() *grpc.Server {
	s.logger.V(1).Info("Building a standard gRPC server")
	grpcServer := grpc.NewServer(s.serverOptions...)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(PiServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	grpcServer.RegisterService(&PiServiceDesc, s)
	reflection.Register(grpcServer)
	return grpcServer
}
