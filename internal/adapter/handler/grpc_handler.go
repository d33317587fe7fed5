package handler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const CartServiceName = "cart.CartService"

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// HealthReporter drives the standard gRPC health service from dependency
// probes. Both the overall server ("") and CartServiceName follow the result.
type HealthReporter struct {
	server   *health.Server
	probes   map[string]Probe
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewHealthReporter(server *health.Server, probes map[string]Probe, interval time.Duration, logger *zap.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthReporter{
		server:   server,
		probes:   probes,
		interval: interval,
		timeout:  2 * time.Second,
		logger:   logger,
	}
}

// Check runs every probe once and publishes the aggregate status.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	status := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		if err := h.probes[name](ctx); err != nil {
			h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(CartServiceName, status)
	return status
}

// Run checks on every interval until ctx is done.
func (h *HealthReporter) Run(ctx context.Context) {
	h.Check(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown marks everything NOT_SERVING so clients drain before GracefulStop.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
