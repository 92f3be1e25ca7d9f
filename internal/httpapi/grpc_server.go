package httpapi

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"actorgate.org/internal/auth"
	"actorgate.org/internal/obs"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// GRPCServer exposes grpc.health.v1 and authenticates every other unary call.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer creates the gRPC server. Services registered on Server()
// receive the caller Payload in their context.
func NewGRPCServer(svc *auth.Service, r readinessChecker, opts ...grpc.ServerOption) *GRPCServer {
	if r == nil {
		r = ReadyProbe{Pingers: []interface{ Ping(context.Context) error }{svc}}
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(svc.Guard())))
	s := &GRPCServer{
		server:    grpc.NewServer(opts...),
		health:    health.NewServer(),
		readiness: r,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// Server returns the underlying grpc.Server for service registration.
func (s *GRPCServer) Server() *grpc.Server { return s.server }

// CheckReadiness probes the backends and publishes the result on the
// health service and the ready gauge.
func (s *GRPCServer) CheckReadiness(ctx context.Context) error {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return status.Errorf(codes.Unavailable, "not ready: %v", err)
	}
	obs.SetReady(true)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return nil
}

// GracefulStop marks the server as not serving and drains in-flight calls.
func (s *GRPCServer) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// UnaryAuthInterceptor resolves the "authorization" metadata through guard
// for every method except the health service.
func UnaryAuthInterceptor(guard *auth.Guard) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
		token, ok := auth.BearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		}
		p, err := guard.Resolve(ctx, token)
		if err != nil {
			return nil, grpcError(err)
		}
		return handler(auth.ContextWithPayload(ctx, p), req)
	}
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, auth.ErrAuthentication):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, auth.ErrAuthorization):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, auth.ErrValidation):
		return status.Error(codes.InvalidArgument, "validation failed")
	case errors.Is(err, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, "account could not be created")
	default:
		obs.Error("grpc_auth_failed", err, nil)
		return status.Error(codes.Internal, "internal error")
	}
}
