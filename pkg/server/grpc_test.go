package server_test

import (
	"context"
	"net"
	"testing"

	"github.com/memes/machin/pkg/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	bufferSize = 1024 * 1024
)

// Starts a gRPC server for piServer on an in-memory listener and returns a
// connected client.
func newTestConn(t *testing.T, piServer *server.MachinServer) *grpc.ClientConn {
	t.Helper()
	listener := bufconn.Listen(bufferSize)
	grpcServer := piServer.NewGrpcServer()
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	t.Cleanup(grpcServer.Stop)
	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Error dialing in-memory listener: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func invokeGetPi(ctx context.Context, conn *grpc.ClientConn, request map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(request)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, server.GetPiFullMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func TestGrpcServer_GetPi(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t, newTestServer(t, server.WithTags([]string{"grpc"})))
	response, err := invokeGetPi(ctx, conn, map[string]interface{}{"digits": 10})
	if err != nil {
		t.Fatalf("Error calling GetPi: %v", err)
	}
	if actual := response.Fields["pi"].GetStringValue(); actual != "3."+PiDigits[:10] {
		t.Errorf("Expected 3.%s got %s", PiDigits[:10], actual)
	}
	if tags := response.Fields["metadata"].GetStructValue().GetFields()["tags"].GetListValue().GetValues(); len(tags) != 1 || tags[0].GetStringValue() != "grpc" {
		t.Errorf("Expected tags [grpc] got %v", tags)
	}
	response, err = invokeGetPi(ctx, conn, map[string]interface{}{"digits": 20, "guard": true})
	if err != nil {
		t.Fatalf("Error calling GetPi: %v", err)
	}
	if actual := response.Fields["pi"].GetStringValue(); actual != PiGuard20 {
		t.Errorf("Expected %s got %s", PiGuard20, actual)
	}
	if actual := response.Fields["approximation"].GetStringValue(); actual != PiGuard20[:20] {
		t.Errorf("Expected approximation %s got %s", PiGuard20[:20], actual)
	}
}

func TestGrpcServer_GetPi_Errors(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t, newTestServer(t, server.WithMaxDigits(50)))
	tests := []struct {
		name     string
		request  map[string]interface{}
		expected codes.Code
	}{
		{name: "missing digits", request: map[string]interface{}{}, expected: codes.InvalidArgument},
		{name: "fractional digits", request: map[string]interface{}{"digits": 1.5}, expected: codes.InvalidArgument},
		{name: "string digits", request: map[string]interface{}{"digits": "ten"}, expected: codes.InvalidArgument},
		{name: "string guard", request: map[string]interface{}{"digits": 10, "guard": "yes"}, expected: codes.InvalidArgument},
		{name: "zero", request: map[string]interface{}{"digits": 0}, expected: codes.InvalidArgument},
		{name: "limit", request: map[string]interface{}{"digits": 51}, expected: codes.OutOfRange},
	}
	for _, test := range tests {
		_, err := invokeGetPi(ctx, conn, test.request)
		if code := status.Code(err); code != test.expected {
			t.Errorf("%s: expected code %v got %v (%v)", test.name, test.expected, code, err)
		}
	}
}

func TestGrpcServer_Health(t *testing.T) {
	conn := newTestConn(t, newTestServer(t))
	client := grpc_health_v1.NewHealthClient(conn)
	for _, service := range []string{"", server.PiServiceName} {
		response, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			t.Errorf("Service %q: error calling Check: %v", service, err)
			continue
		}
		if response.Status != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("Service %q: expected SERVING got %v", service, response.Status)
		}
	}
}
