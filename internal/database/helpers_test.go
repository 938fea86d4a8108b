package database

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/testutil/pgtest"
)

// skipWithoutDocker skips container-backed tests in -short mode
func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
}

// startPostgres starts a container and registers its teardown
func startPostgres(t *testing.T) *pgtest.Postgres {
	t.Helper()
	ctx := context.Background()

	pg, err := pgtest.Start(ctx)
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return pg
}

// setupTestDB returns a migrated database and a cleanup function
func setupTestDB(ctx context.Context) (*DB, func(), error) {
	pg, err := pgtest.Start(ctx)
	if err != nil {
		return nil, nil, err
	}

	db, err := NewDB(pg.Config, zap.NewNop())
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations("migrations"); err != nil {
		_ = db.Close()
		_ = pg.Terminate(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
		_ = pg.Terminate(ctx)
	}
	return db, cleanup, nil
}
