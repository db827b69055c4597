package httpapi

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"peoplegate.org/internal/obs"
	"peoplegate.org/internal/session"
)

// GRPCServer serves the standard gRPC health protocol backed by the same
// readiness check as /readyz.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness ReadinessChecker
}

func NewGRPCServer(r ReadinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyFunc(nil)
	}
	return &GRPCServer{readiness: r}
}

// Register attaches the health service to gs.
func (s *GRPCServer) Register(gs *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(gs, s)
}

// Check evaluates readiness. Only the overall ("") and this service's name
// are known.
func (s *GRPCServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

// UnarySessionInterceptor verifies the bearer token in the "authorization"
// metadata and stores the session in the handler context. Health checks
// stay public.
func UnarySessionInterceptor(v *session.Verifier, logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		token, ok := session.BearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		s, err := v.Verify(token)
		if err != nil {
			logger.Debug("grpc session rejected", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(session.WithSession(ctx, s), req)
	}
}
