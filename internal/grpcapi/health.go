// Package grpcapi exposes the standard gRPC health service for fixed
// scanners and load balancers. Status follows a periodic storage ping.
package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "qraccess.v1.AccessEngine"

type Pinger func(ctx context.Context) error

type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	ping     Pinger
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthServer(ping Pinger, interval time.Duration, logger *slog.Logger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &HealthServer{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		ping:     ping,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Serve blocks serving gRPC on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.server.Serve(lis)
}

// Start probes storage immediately and then once per interval.
func (h *HealthServer) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	go h.loop(ctx)
}

// Stop marks every service NOT_SERVING, stops probing and drains RPCs.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	h.server.GracefulStop()
}

// Probe runs one storage ping and updates the served status.
func (h *HealthServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.ping != nil {
		pctx, cancel := context.WithTimeout(ctx, h.interval)
		defer cancel()
		if err := h.ping(pctx); err != nil {
			h.logger.Warn("health probe failed", "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.set(status)
	return status
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

func (h *HealthServer) loop(ctx context.Context) {
	defer close(h.done)

	h.Probe(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}
