// Package health exposes the service's readiness over the standard gRPC health protocol.
package health

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the service name reported alongside the overall ("") status.
const ServiceName = "copilot-relay"

// DefaultProbeInterval is used when New is given a non-positive interval.
const DefaultProbeInterval = 15 * time.Second

const probeTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1 and keeps its status in step with a store probe.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	serving bool
}

// New creates a Server. The status is NOT_SERVING until the first probe succeeds.
func New(pinger Pinger, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{
		grpc:     gs,
		health:   hs,
		pinger:   pinger,
		interval: interval,
		logger:   logger,
	}
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Probe pings the store once and publishes the result. Transitions are logged.
func (s *Server) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := s.pinger.Ping(ctx)
	ok := err == nil

	s.mu.Lock()
	changed := ok != s.serving
	s.serving = ok
	s.mu.Unlock()

	if ok {
		s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	if changed {
		if ok {
			s.logger.Info("Health probe passing", "service", ServiceName)
		} else {
			s.logger.Warn("Health probe failing", "service", ServiceName, "error", err)
		}
	}
	return ok
}

// Run probes immediately and then every interval until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Probe(ctx)
	for {
		select {
		case <-ticker.C:
			s.Probe(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Serve accepts gRPC connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
