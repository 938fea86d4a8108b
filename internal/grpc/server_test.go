package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
)

func startHealthServer(t *testing.T) (*HealthReporter, healthpb.HealthClient) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	reporter := NewHealthReporter(zap.NewNop())
	server := newServer(reporter, lis, zap.NewNop())
	go func() { _ = server.Serve() }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return reporter, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_FollowsGatewayStatus(t *testing.T) {
	reporter, client := startHealthServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, GatewayService))

	reporter.StatusChanged(gateway.StatusUnauthenticated)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, GatewayService))

	reporter.StatusChanged(gateway.StatusAuthenticated)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, GatewayService))

	reporter.StatusChanged(gateway.StatusDisconnected)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, GatewayService))
}

func TestHealth_Shutdown(t *testing.T) {
	reporter, client := startHealthServer(t)

	reporter.Shutdown()
	reporter.StatusChanged(gateway.StatusAuthenticated)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, GatewayService))
}
