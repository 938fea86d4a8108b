// Package pgtest starts throwaway PostgreSQL containers for tests. It only
// depends on config so that the database package can use it too.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/parsascontentcorner/discordliteclient/internal/config"
)

const (
	image    = "postgres:15-alpine"
	name     = "testdb"
	user     = "testuser"
	password = "testpass"
)

// Postgres is a running container
type Postgres struct {
	container *postgres.PostgresContainer
	Config    *config.DatabaseConfig
}

// Start runs a PostgreSQL container and waits until it accepts connections
func Start(ctx context.Context) (*Postgres, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(image),
		postgres.WithDatabase(name),
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &Postgres{
		container: container,
		Config: &config.DatabaseConfig{
			Enabled:      true,
			Host:         host,
			Port:         port.Port(),
			User:         user,
			Password:     password,
			Name:         name,
			SSLMode:      "disable",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
	}, nil
}

// Terminate stops and removes the container
func (p *Postgres) Terminate(ctx context.Context) error {
	return p.container.Terminate(ctx)
}

// MigrationsDir finds internal/database/migrations by walking up from the
// working directory
func MigrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, "internal", "database", "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("migrations directory not found")
		}
		dir = parent
	}
}
