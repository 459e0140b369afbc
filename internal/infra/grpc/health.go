package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name workers report under.
const ServiceName = "rentme.deposits.Sweeper"

// HealthServer exposes grpc.health.v1 for the sweep worker, which has no
// HTTP surface when run without the API. Probe is polled to flip serving
// status, for example a store ping.
type HealthServer struct {
	Addr     string
	Probe    func(ctx context.Context) error
	Interval time.Duration
	Logger   *slog.Logger

	health *health.Server
}

func (s *HealthServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("grpc health: listen %s: %w", s.Addr, err)
	}
	srv := grpc.NewServer()
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)

	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		srv.GracefulStop()
	}()
	s.logger().Info("grpc health server starting", "addr", s.Addr)
	if err := srv.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *HealthServer) watch(ctx context.Context) {
	if s.Probe == nil {
		return
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval/2)
			err := s.Probe(pctx)
			cancel()
			if err != nil {
				s.logger().Warn("health probe failed", "error", err)
				s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
				continue
			}
			s.setStatus(healthpb.HealthCheckResponse_SERVING)
		}
	}
}

func (s *HealthServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *HealthServer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
