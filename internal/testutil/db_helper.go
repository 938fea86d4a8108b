package testutil

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/database"
	"github.com/parsascontentcorner/discordliteclient/internal/testutil/pgtest"
)

// SetupTestDB starts a PostgreSQL container, applies the migrations and
// returns a connected database with its cleanup function.
//
// Usage:
//
//	db, cleanup, err := testutil.SetupTestDB(ctx)
//	require.NoError(t, err)
//	defer cleanup()
func SetupTestDB(ctx context.Context) (*database.DB, func(), error) {
	migrations, err := pgtest.MigrationsDir()
	if err != nil {
		return nil, nil, err
	}

	pg, err := pgtest.Start(ctx)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewDB(pg.Config, zap.NewNop())
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(migrations); err != nil {
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
