package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/api"
	"github.com/parsascontentcorner/discordliteclient/internal/auth"
	"github.com/parsascontentcorner/discordliteclient/internal/cache"
	"github.com/parsascontentcorner/discordliteclient/internal/config"
	"github.com/parsascontentcorner/discordliteclient/internal/database"
	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
	grpcserver "github.com/parsascontentcorner/discordliteclient/internal/grpc"
	"github.com/parsascontentcorner/discordliteclient/internal/metrics"
	"github.com/parsascontentcorner/discordliteclient/internal/ratelimit"
	"github.com/parsascontentcorner/discordliteclient/internal/supervisor"
	"github.com/parsascontentcorner/discordliteclient/pkg/logger"
)

// app holds the wired client components shared by the commands
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *database.DB
	api        *api.Client
	cache      *cache.Store
	gateway    *gateway.Client
	auth       *auth.Manager
	metrics    *metrics.GatewayMetrics
	health     *grpcserver.HealthReporter
	supervisor *supervisor.Supervisor
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	base, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.ForProfile(base, cfg.Gateway.Profile)

	a := &app{cfg: cfg, log: log}

	a.api = api.NewClient(cfg.API, log)
	a.api.SetRateLimiter(ratelimit.NewLimiter(log))
	a.cache = cache.NewStore(a.api, log)

	var store auth.CredentialStore = auth.NewMemoryStore()
	var checkpoints gateway.CheckpointStore
	if cfg.Database.Enabled {
		db, err := database.NewDB(&cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db

		if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
			a.close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}

		cipher, err := auth.NewTokenCipher(cfg.Auth.EncryptionKey)
		if err != nil {
			a.close()
			return nil, err
		}
		store = auth.NewDBStore(db, cipher)
		checkpoints = db
	}

	a.metrics = metrics.New(nil)
	a.health = grpcserver.NewHealthReporter(log)
	a.supervisor = supervisor.New(cfg.Reconnect, log, supervisor.WithAttemptHook(a.metrics.ReconnectAttempted))

	opts := []gateway.Option{
		gateway.WithObserver(a.metrics),
		gateway.WithObserver(a.health),
		gateway.WithObserver(a.supervisor),
	}
	if checkpoints != nil {
		opts = append(opts, gateway.WithCheckpointStore(checkpoints))
	}

	a.gateway, err = gateway.NewClient(cfg.Gateway, a.cache, log, opts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}
	a.supervisor.AttachTo(a.gateway)

	a.auth = auth.NewManager(a.api, store, cfg.Gateway.Profile, log)
	a.auth.AttachGateway(a.gateway)

	return a, nil
}

// token returns the bearer token to use, logging in when no session is
// stored. AUTH_TOKEN skips the REST login.
func (a *app) token(ctx context.Context) (string, error) {
	if a.cfg.Auth.Token != "" {
		a.api.SetToken(a.cfg.Auth.Token)
		return a.cfg.Auth.Token, nil
	}

	cred, err := a.auth.Restore(ctx)
	if err == nil {
		return cred.Token, nil
	}
	if !errors.Is(err, auth.ErrNotLoggedIn) {
		return "", err
	}

	if a.cfg.Auth.Email == "" || a.cfg.Auth.Password == "" {
		return "", fmt.Errorf("not logged in: set AUTH_EMAIL and AUTH_PASSWORD or run login")
	}
	cred, err = a.auth.LogIn(ctx, a.cfg.Auth.Email, a.cfg.Auth.Password)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (a *app) close() {
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			a.log.Error("failed to close gateway client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("failed to close database connection", zap.Error(err))
		}
	}
	// Sync errors on stdout/stderr are expected for pipes and terminals
	_ = a.log.Sync()
}
