package server

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const defaultPort = 50051

type Option func(*options)

type options struct {
	port       int
	listener   net.Listener
	logger     *zap.Logger
	reflection bool
}

func WithPort(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// WithListener serves on an existing listener instead of opening a TCP port.
func WithListener(lis net.Listener) Option {
	return func(o *options) {
		o.listener = lis
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithReflection(enabled bool) Option {
	return func(o *options) {
		o.reflection = enabled
	}
}

// Server wraps a grpc.Server whose services start NOT_SERVING and are marked ready individually.
// Every call is recovered from panics and logged.
type Server struct {
	grpcServer *grpc.Server
	lis        net.Listener
	logger     *zap.Logger
	health     *health.Server
}

func New(opts ...Option) (*Server, error) {
	o := &options{port: defaultPort, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	lis := o.listener
	if lis == nil {
		if o.port < 1 || o.port > 65535 {
			return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", o.port)
		}
		var err error
		lis, err = net.Listen("tcp", fmt.Sprintf(":%d", o.port))
		if err != nil {
			return nil, fmt.Errorf("failed to listen on port %d: %w", o.port, err)
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingInterceptor(o.logger),
		RecoveryInterceptor(o.logger),
	))
	if o.reflection {
		reflection.Register(grpcServer)
	}

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{
		grpcServer: grpcServer,
		lis:        lis,
		logger:     o.logger.Named("grpc-server"),
		health:     hs,
	}, nil
}

// Register installs a service and reports it NOT_SERVING until MarkServing is called.
func (s *Server) Register(serviceName string, register func(*grpc.Server)) {
	register(s.grpcServer)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.logger.Info("registered service", zap.String("service", serviceName))
}

// MarkServing flips a registered service to SERVING. Repeated calls are harmless.
func (s *Server) MarkServing(serviceName string) {
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
}

// Start serves in a goroutine and returns immediately.
func (s *Server) Start() {
	s.logger.Info("gRPC server starting", zap.String("addr", s.lis.Addr().String()))

	go func() {
		if err := s.grpcServer.Serve(s.lis); err != nil {
			s.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight calls, falling back to a hard stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("gRPC server forced to stop")
		s.grpcServer.Stop()
		return ctx.Err()
	}
}
