package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"pedolone.org/internal/obs"
)

const grpcServiceName = "pedolone.api"

// GRPCHealthServer exposes the engine's readiness over the standard gRPC
// health protocol for sidecar probes and internal load balancers.
type GRPCHealthServer struct {
	server *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewGRPCHealthServer creates the health service wrapper.
func NewGRPCHealthServer(probe ReadyProbe) *GRPCHealthServer {
	s := &GRPCHealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		probe:  probe,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// Serve runs the gRPC listener and keeps the health status in sync with the
// readiness probe until the context ends.
func (s *GRPCHealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.server.GracefulStop()
	}()
	return s.server.Serve(lis)
}

func (s *GRPCHealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	s.update(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.update(ctx)
		}
	}
}

func (s *GRPCHealthServer) update(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.probe.Check(checkCtx); err != nil {
		obs.SetReady(false)
		s.health.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	obs.SetReady(true)
	s.health.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
}
