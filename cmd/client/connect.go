package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
	grpcserver "github.com/parsascontentcorner/discordliteclient/internal/grpc"
	httpserver "github.com/parsascontentcorner/discordliteclient/internal/http"
)

const (
	cleanupInterval = 30 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func connectCmd() *cobra.Command {
	var serveOps bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the gateway and stay connected until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return runConnect(ctx, a, serveOps)
		},
	}

	cmd.Flags().BoolVar(&serveOps, "ops", true, "Serve the HTTP and gRPC ops endpoints")
	return cmd
}

func runConnect(ctx context.Context, a *app, serveOps bool) error {
	log := a.log
	log.Info("starting Discord Lite client",
		zap.String("environment", a.cfg.Server.Env),
		zap.String("gateway", a.gateway.Endpoint()),
	)

	token, err := a.token(ctx)
	if err != nil {
		return err
	}

	if a.db != nil {
		a.db.StartCleanupJob(ctx, cleanupInterval)
	}
	if err := a.gateway.Restore(ctx); err != nil {
		log.Warn("failed to restore gateway checkpoint", zap.Error(err))
	}

	errChan := make(chan error, 2)
	var httpServer *httpserver.Server
	var grpcServer *grpcserver.Server
	if serveOps {
		handlers := httpserver.NewHandlers(a.gateway, a.metrics.Handler(), log)
		if a.db != nil {
			handlers.SetDatabase(a.db)
		}
		httpServer = httpserver.NewServer(handlers, a.cfg.Server.HTTPPort, log)
		go func() {
			if err := httpServer.Serve(); err != nil {
				errChan <- err
			}
		}()

		grpcServer, err = grpcserver.NewServer(a.health, a.cfg.Server.GRPCPort, log)
		if err != nil {
			return err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errChan <- err
			}
		}()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	done := make(chan error, 1)
	go func() { done <- a.supervisor.Run(runCtx, token) }()

	var runErr error
	select {
	case runErr = <-done:
	case err := <-errChan:
		log.Error("ops server error", zap.Error(err))
		runErr = err
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}
	cancelRun()

	// Going away keeps the resume intent for the next start.
	if a.gateway.State().Status != gateway.StatusDisconnected {
		a.gateway.Disconnect(gateway.CloseGoingAway)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.health.Shutdown()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	log.Info("client stopped")
	return runErr
}
