package api

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/rookery/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LeaderService is the gRPC health service name that reports SERVING only
// on the manager currently holding leadership
const LeaderService = "rookery.Leader"

// LeaderSource reports whether this process is the leader
type LeaderSource interface {
	IsLeader() bool
}

// Server is the gRPC endpoint of a manager. It serves the standard health
// protocol so load balancers and health checkers can find the leader.
type Server struct {
	leader LeaderSource
	health *health.Server
	grpc   *grpc.Server
	logger zerolog.Logger

	mu      sync.Mutex
	serving bool
}

// NewServer creates a new gRPC server reporting the leadership of src
func NewServer(src LeaderSource) *Server {
	hs := health.NewServer()
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(MetricsInterceptor()))
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		leader: src,
		health: hs,
		grpc:   srv,
		logger: log.WithComponent("api"),
	}
	s.health.SetServingStatus(LeaderService, healthpb.HealthCheckResponse_NOT_SERVING)
	s.Update()
	return s
}

// Start listens on addr and serves until Stop is called
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("gRPC health listening")
	return s.Serve(lis)
}

// Serve accepts connections on lis
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and gracefully stops the server
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Update sets the serving status of LeaderService from the current leadership
func (s *Server) Update() {
	leader := s.leader != nil && s.leader.IsLeader()

	s.mu.Lock()
	defer s.mu.Unlock()
	if leader == s.serving {
		return
	}
	s.serving = leader

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if leader {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(LeaderService, status)
	s.logger.Debug().Str("status", status.String()).Msg("Leader service status changed")
}

// Watch refreshes the leader status every interval until ctx is done
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Update()
		case <-ctx.Done():
			return
		}
	}
}
