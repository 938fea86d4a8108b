package grpc

import (
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
)

// GatewayService is the health service name that mirrors the gateway
const GatewayService = "discordlite.gateway.v1.Gateway"

// HealthReporter mirrors the gateway status into the gRPC health service.
// Both the overall status and GatewayService are SERVING only while the
// session is authenticated.
type HealthReporter struct {
	gateway.NopObserver

	server *health.Server
	logger *zap.Logger
}

var _ gateway.Observer = (*HealthReporter)(nil)

// NewHealthReporter creates a reporter that starts NOT_SERVING
func NewHealthReporter(logger *zap.Logger) *HealthReporter {
	r := &HealthReporter{
		server: health.NewServer(),
		logger: logger,
	}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// StatusChanged updates the serving status
func (r *HealthReporter) StatusChanged(status gateway.Status) {
	if status == gateway.StatusAuthenticated {
		r.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Shutdown reports NOT_SERVING permanently
func (r *HealthReporter) Shutdown() {
	r.server.Shutdown()
}

func (r *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(GatewayService, status)
	r.logger.Debug("health status changed", zap.String("status", status.String()))
}
