// Package server wires the instance runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/casework/internal/platform/timeouts"
	"github.com/louisbranch/casework/internal/services/instance/domain/instance"
	"github.com/louisbranch/casework/internal/services/instance/observability/liveness"
	"github.com/louisbranch/casework/internal/services/instance/storage"
)

const defaultWatchInterval = time.Second

// Runtime is the instance runtime served by a Server. The server owns it
// after NewWithAddr returns.
type Runtime struct {
	Host     *instance.Host
	Store    storage.Store
	Health   *health.Server
	Liveness *liveness.Liveness
	// WatchInterval is how often the liveness watchdog runs.
	WatchInterval time.Duration
}

// Server hosts the gRPC health API in front of the instance runtime.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	runtime    Runtime
	closeOnce  sync.Once
}

// NewWithAddr creates a configured instance server for the provided address.
func NewWithAddr(addr string, runtime Runtime) (*Server, error) {
	if runtime.Host == nil {
		return nil, errors.New("instance host is required")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if runtime.Health == nil {
		runtime.Health = health.NewServer()
	}
	if runtime.WatchInterval <= 0 {
		runtime.WatchInterval = defaultWatchInterval
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(grpcServer, runtime.Health)
	runtime.Health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		runtime:    runtime,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve activates journaled instances and serves gRPC until context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	if s.runtime.Liveness != nil {
		go s.runtime.Liveness.Watch(ctx, s.runtime.WatchInterval)
	}
	activated, err := s.runtime.Host.ActivateAll(ctx)
	if err != nil {
		return fmt.Errorf("activate instances: %w", err)
	}

	log.Printf("instance server listening at %v (%d instances activated)", s.listener.Addr(), activated)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.runtime.Health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close stops the host, then releases gRPC and storage resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	if s.runtime.Health != nil {
		s.runtime.Health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.runtime.Host != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		if err := s.runtime.Host.Stop(stopCtx); err != nil {
			log.Printf("stop instance host: %v", err)
		}
		cancel()
	}
	if s.runtime.Store != nil {
		if err := s.runtime.Store.Close(); err != nil {
			log.Printf("close journal store: %v", err)
		}
	}
}
