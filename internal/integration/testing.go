// Package integration wires the client's packages together against the
// mock REST and gateway servers.
package integration

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/api"
	"github.com/parsascontentcorner/discordliteclient/internal/auth"
	"github.com/parsascontentcorner/discordliteclient/internal/cache"
	"github.com/parsascontentcorner/discordliteclient/internal/config"
	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
	"github.com/parsascontentcorner/discordliteclient/internal/grpc"
	"github.com/parsascontentcorner/discordliteclient/internal/metrics"
	"github.com/parsascontentcorner/discordliteclient/internal/supervisor"
	"github.com/parsascontentcorner/discordliteclient/internal/testutil"
)

const heartbeatInterval = 200 * time.Millisecond

// suite is a fully wired client talking to mock servers
type suite struct {
	api        *testutil.MockAPIServer
	gw         *testutil.MockGatewayServer
	client     *api.Client
	cache      *cache.Store
	gateway    *gateway.Client
	manager    *auth.Manager
	supervisor *supervisor.Supervisor
	metrics    *metrics.GatewayMetrics
	health     *grpc.HealthReporter
	logger     *zap.Logger
}

type suiteOption func(*suiteOptions)

type suiteOptions struct {
	checkpoints gateway.CheckpointStore
}

func withCheckpoints(store gateway.CheckpointStore) suiteOption {
	return func(o *suiteOptions) {
		o.checkpoints = store
	}
}

func setupSuite(t *testing.T, opts ...suiteOption) *suite {
	t.Helper()

	var o suiteOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := zap.NewNop()
	cfg := testutil.GenerateTestConfig()

	apiServer := testutil.NewMockAPIServer()
	t.Cleanup(apiServer.Close)
	gwServer := testutil.NewMockGatewayServer(testutil.MockToken, heartbeatInterval)
	t.Cleanup(gwServer.Close)

	cfg.API.BaseURL = apiServer.URL()
	cfg.Gateway.URL = gwServer.URL()
	cfg.Gateway.Debug = 1
	cfg.Gateway.Profile = "integration"
	cfg.Reconnect = config.ReconnectConfig{
		Enabled:         true,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
	}

	client := api.NewClient(cfg.API, logger)
	store := cache.NewStore(client, logger)
	m := metrics.New(nil)
	health := grpc.NewHealthReporter(logger)
	sup := supervisor.New(cfg.Reconnect, logger, supervisor.WithAttemptHook(m.ReconnectAttempted))

	gwOpts := []gateway.Option{
		gateway.WithObserver(m),
		gateway.WithObserver(health),
		gateway.WithObserver(sup),
	}
	if o.checkpoints != nil {
		gwOpts = append(gwOpts, gateway.WithCheckpointStore(o.checkpoints))
	}

	gw, err := gateway.NewClient(cfg.Gateway, store, logger, gwOpts...)
	if err != nil {
		t.Fatalf("failed to create gateway client: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	sup.AttachTo(gw)

	manager := auth.NewManager(client, auth.NewMemoryStore(), cfg.Gateway.Profile, logger)
	manager.AttachGateway(gw)

	return &suite{
		api:        apiServer,
		gw:         gwServer,
		client:     client,
		cache:      store,
		gateway:    gw,
		manager:    manager,
		supervisor: sup,
		metrics:    m,
		health:     health,
		logger:     logger,
	}
}

// run starts the supervisor and returns its result channel
func (s *suite) run(ctx context.Context, token string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.supervisor.Run(ctx, token) }()
	return done
}

func (s *suite) hasEvent(prefix string) bool {
	for _, event := range s.gateway.State().Events {
		if len(event) >= len(prefix) && event[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
