package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the health-check service name reported for the marketplace.
const ServiceName = "mutualaid.Marketplace"

const defaultProbeInterval = 10 * time.Second

// ReadinessProbe reports whether the backing stores can serve requests.
type ReadinessProbe func(ctx context.Context) error

// Option configures a Server.
type Option func(*Server)

// WithReadinessProbe wires the check used to flip the health status.
func WithReadinessProbe(probe ReadinessProbe) Option {
	return func(server *Server) {
		server.probe = probe
	}
}

// WithProbeInterval sets how often the readiness probe runs.
func WithProbeInterval(interval time.Duration) Option {
	return func(server *Server) {
		if interval > 0 {
			server.probeInterval = interval
		}
	}
}

// Server exposes gRPC health checks for the marketplace process.
type Server struct {
	logger        *zap.Logger
	grpcServer    *grpc.Server
	health        *health.Server
	probe         ReadinessProbe
	probeInterval time.Duration
}

// New builds the gRPC server with the health service registered.
func New(logger *zap.Logger, options ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		logger:        logger,
		health:        health.NewServer(),
		probeInterval: defaultProbeInterval,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	server.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	healthpb.RegisterHealthServer(server.grpcServer, server.health)
	return server
}

// Refresh runs the readiness probe once and publishes the result.
func (server *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	servingStatus := healthpb.HealthCheckResponse_SERVING
	if server.probe != nil {
		if err := server.probe(ctx); err != nil {
			server.logger.Warn("readiness probe failed", zap.Error(err))
			servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	server.health.SetServingStatus("", servingStatus)
	server.health.SetServingStatus(ServiceName, servingStatus)
	return servingStatus
}

// Serve accepts connections on listener until ctx is cancelled.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	server.Refresh(ctx)

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("gRPC server starting", zap.String("listen_addr", listener.Addr().String()))
		errCh <- server.grpcServer.Serve(listener)
	}()

	ticker := time.NewTicker(server.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			server.Refresh(ctx)
		case <-ctx.Done():
			server.logger.Info("shutdown requested")
			server.health.Shutdown()
			server.grpcServer.GracefulStop()
			if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
				return serveErr
			}
			return nil
		case serveErr := <-errCh:
			if errors.Is(serveErr, grpc.ErrServerStopped) {
				return nil
			}
			return serveErr
		}
	}
}

// Run listens on addr and serves until ctx is cancelled.
func (server *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx, listener)
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(started)),
		}
		if err != nil {
			logger.Warn("grpc request failed", append(fields, zap.Error(err))...)
			return response, err
		}
		logger.Debug("grpc request", fields...)
		return response, nil
	}
}
