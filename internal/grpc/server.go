// Package grpc exposes the gRPC health service for the gateway client.
package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server serves grpc.health.v1.Health
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer creates a gRPC server listening on port
func NewServer(reporter *HealthReporter, port string, logger *zap.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", ":"+port) //nolint:noctx // listener lives as long as the server
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", port, err)
	}
	return newServer(reporter, lis, logger), nil
}

func newServer(reporter *HealthReporter, lis net.Listener, logger *zap.Logger) *Server {
	logger = logger.Named("grpc")

	srv := grpc.NewServer(grpc.UnaryInterceptor(logCalls(logger)))
	healthpb.RegisterHealthServer(srv, reporter.server)
	reflection.Register(srv)

	return &Server{grpcServer: srv, listener: lis, logger: logger}
}

// Serve blocks until the server stops
func (s *Server) Serve() error {
	s.logger.Info("starting gRPC server", zap.String("address", s.listener.Addr().String()))

	if err := s.grpcServer.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

// GracefulStop waits for pending RPCs before stopping
func (s *Server) GracefulStop() {
	s.logger.Info("gracefully stopping gRPC server")
	s.grpcServer.GracefulStop()
}

// Stop closes all connections immediately
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

func logCalls(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("gRPC call failed", zap.String("method", info.FullMethod), zap.Error(err))
			return resp, err
		}
		logger.Debug("gRPC call completed", zap.String("method", info.FullMethod))
		return resp, nil
	}
}
