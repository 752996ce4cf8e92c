package api

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/tidewater/serialrouter/pkg/engine"
)

// GRPCHealthServer hosts the standard grpc_health_v1 Health service,
// deriving SERVING/NOT_SERVING directly from the engine's
// OverallHealthStatus on every Check rather than requiring a caller to
// push status updates, so it's always consistent with /status.
type GRPCHealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	eng *engine.Engine
}

// NewGRPCHealthServer wraps eng for liveness reporting.
func NewGRPCHealthServer(eng *engine.Engine) *GRPCHealthServer {
	return &GRPCHealthServer{eng: eng}
}

// Check implements grpc_health_v1.HealthServer.
func (g *GRPCHealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if g.eng == nil || !g.eng.Running() {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	if g.eng.Status().OverallHealthStatus == engine.HealthCritical {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

// Watch implements grpc_health_v1.HealthServer. Streaming watch is not
// supported; clients should poll Check.
func (g *GRPCHealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported, poll Check instead")
}

// ServeGRPCHealth listens on addr and serves only the health service,
// blocking until the listener errors.
func ServeGRPCHealth(addr string, eng *engine.Engine) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, NewGRPCHealthServer(eng))
	return srv.Serve(lis)
}
