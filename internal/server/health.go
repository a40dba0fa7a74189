package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC service name reported alongside the overall ("") status.
const HealthService = "orderex.v1.Extractions"

// HealthReporter mirrors a HealthFunc into the standard gRPC health service.
type HealthReporter struct {
	hs       *health.Server
	check    HealthFunc
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthReporter(check HealthFunc, interval time.Duration, logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthReporter{hs: health.NewServer(), check: check, interval: interval, logger: logger}
}

// Register mounts the health service on srv.
func (r *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, r.hs)
}

// Server exposes the underlying health server.
func (r *HealthReporter) Server() healthpb.HealthServer {
	return r.hs
}

// Update runs one check and publishes the result.
func (r *HealthReporter) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if r.check != nil {
		if err := r.check(ctx); err != nil {
			r.logger.Warn("grpc.health.failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	r.hs.SetServingStatus("", st)
	r.hs.SetServingStatus(HealthService, st)
	return st
}

// Run polls until ctx is done, then marks everything NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context) {
	r.Update(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.hs.Shutdown()
			return
		case <-ticker.C:
			r.Update(ctx)
		}
	}
}
