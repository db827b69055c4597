package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"

	"peoplegate.org/internal/session"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer, opts ...grpc.ServerOption) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(opts...)
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

func TestGRPCHealthServing(t *testing.T) {
	v, err := session.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	// Health stays reachable without credentials even with the interceptor installed.
	conn, cleanup := startBufGRPC(t, NewGRPCServer(nil), grpc.ChainUnaryInterceptor(UnarySessionInterceptor(v, nil)))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	want := &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}
	if !proto.Equal(resp, want) {
		t.Fatalf("unexpected response: %v", resp)
	}

	_, err = grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "other"})
	if st, ok := status.FromError(err); !ok || st.Code() != codes.NotFound {
		t.Fatalf("expected NotFound for unknown service, got %v", err)
	}
}

func TestGRPCHealthNotServing(t *testing.T) {
	failing := ReadyFunc(func(context.Context) error { return errors.New("boom") })
	conn, cleanup := startBufGRPC(t, NewGRPCServer(failing))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestUnarySessionInterceptor(t *testing.T) {
	v, err := session.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	interceptor := UnarySessionInterceptor(v, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/peoplegate.v1.Authz/Check"}
	handler := func(ctx context.Context, _ any) (any, error) {
		s, ok := session.FromContext(ctx)
		if !ok {
			return nil, errors.New("no session")
		}
		return s.UserID + "@" + s.OrgID, nil
	}

	_, err = interceptor(context.Background(), nil, info, handler)
	if st, _ := status.FromError(err); st.Code() != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without metadata, got %v", err)
	}

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope"))
	_, err = interceptor(bad, nil, info, handler)
	if st, _ := status.FromError(err); st.Code() != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for bad token, got %v", err)
	}

	tok, _, err := v.Issue("alice", "org-a", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	good := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+tok))
	out, err := interceptor(good, nil, info, handler)
	if err != nil || out != "alice@org-a" {
		t.Fatalf("interceptor = %v, %v", out, err)
	}
}
