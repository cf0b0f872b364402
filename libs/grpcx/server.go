package grpcx

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer builds a server with tracing, request ids and a registered health service.
func NewServer(opts ...grpc.ServerOption) *Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
	}
	srv := grpc.NewServer(append(base, opts...)...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{Server: srv, Health: hs}
}

// SetServing flips the status of the named services and the server as a whole.
func (s *Server) SetServing(serving bool, services ...string) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.Health.SetServingStatus("", status)
	for _, name := range services {
		s.Health.SetServingStatus(name, status)
	}
}

// Run serves on addr until ctx is done, then stops gracefully.
func (s *Server) Run(ctx context.Context, logger *slog.Logger, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Health.Shutdown()
		s.GracefulStop()
		logger.Info("grpc server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
