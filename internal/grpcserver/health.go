// Package grpcserver exposes settlement liveness through the standard gRPC health service.
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
)

const (
	// SettlementService is the health entry that follows the settlement worker pool.
	SettlementService    = "storefront.settlement"
	defaultProbeInterval = 2 * time.Second
)

// Probe reports whether the settlement workers are running.
type Probe func() bool

// HealthServer keeps the gRPC health status in sync with a Probe.
type HealthServer struct {
	health   *health.Server
	probe    Probe
	interval time.Duration
}

// NewHealthServer starts NOT_SERVING until the first probe succeeds.
func NewHealthServer(probe Probe, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	server := &HealthServer{health: health.NewServer(), probe: probe, interval: interval}
	server.health.SetServingStatus(SettlementService, healthpb.HealthCheckResponse_NOT_SERVING)
	server.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return server
}

// Register attaches the health service to a gRPC server.
func (server *HealthServer) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, server.health)
}

// Refresh evaluates the probe once.
func (server *HealthServer) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if server.probe != nil && server.probe() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	server.health.SetServingStatus(SettlementService, status)
}

// Watch refreshes the status until ctx is done, then marks everything NOT_SERVING.
func (server *HealthServer) Watch(ctx context.Context) {
	ticker := time.NewTicker(server.interval)
	defer ticker.Stop()
	server.Refresh()
	for {
		select {
		case <-ctx.Done():
			server.health.Shutdown()
			return
		case <-ticker.C:
			server.Refresh()
		}
	}
}

// Serve runs a gRPC server with the health service on listenAddr until ctx is done.
func Serve(ctx context.Context, listenAddr string, healthServer *HealthServer, logger *zap.Logger) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	healthServer.Register(grpcServer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC health server starting", zap.String("listen_addr", listener.Addr().String()))
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
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
