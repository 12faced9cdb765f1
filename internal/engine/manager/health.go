package manager

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported on the gRPC health endpoint.
const HealthService = "wifispectra.Manager"

// HealthReporter mirrors node readiness into a gRPC health server: SERVING
// while at least one capture node is ready.
type HealthReporter struct {
	srv   *health.Server
	ready func() int
}

func NewHealthReporter(m *Manager) *HealthReporter {
	h := &HealthReporter{srv: health.NewServer(), ready: m.nodes.ReadyCount}
	h.Update()
	return h
}

// Register adds the health service to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Server returns the underlying health server.
func (h *HealthReporter) Server() *health.Server { return h.srv }

// Update sets the serving status from the current ready count.
func (h *HealthReporter) Update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.ready() > 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(HealthService, status)
	h.srv.SetServingStatus("", status)
}

// Run updates the status every interval until ctx is done, then marks every
// service as not serving.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Update()
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		}
	}
}
