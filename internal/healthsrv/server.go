// Package healthsrv publishes alignment state through the standard gRPC
// health-checking protocol. Each watched strategy is a health service named
// by its strategy ID, SERVING while tracking and NOT_SERVING otherwise. The
// empty service name reports process liveness.
package healthsrv

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/monitoring"
)

// ServiceName returns the health service name used for a strategy.
func ServiceName(strategyID string) string {
	return "alignment." + strategyID
}

// StatusFor maps an alignment state onto a health status.
func StatusFor(s alignment.State) healthpb.HealthCheckResponse_ServingStatus {
	if s == alignment.StateTracking {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Server is a gRPC server carrying only the health service.
type Server struct {
	health *health.Server
	server *grpc.Server

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a server with the health service registered and the overall
// status SERVING.
func New() *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &Server{health: hs, server: gs}
}

// Watch publishes st's state under ServiceName(st.ID()) and keeps it current.
// Call it before the driver starts or from the driver goroutine. The returned
// function stops watching.
func (s *Server) Watch(st alignment.Strategy) func() {
	name := ServiceName(st.ID())
	s.health.SetServingStatus(name, StatusFor(st.State()))
	return st.Subscribe(func(e alignment.Event) {
		if e.Kind != alignment.StateChanged {
			return
		}
		s.health.SetServingStatus(name, StatusFor(e.State))
	})
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	s.listener = lis
	s.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("gRPC health server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("gRPC health server error: %v", err)
		}
	}()
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("gRPC health server stopped")
}
