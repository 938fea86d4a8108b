package database

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/config"
)

func countTables(t *testing.T, db *DB, names ...string) int {
	t.Helper()

	var n int
	err := db.QueryRowContext(context.Background(), `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = ANY($1)
	`, pq.Array(names)).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestNewDB(t *testing.T) {
	skipWithoutDocker(t)
	pg := startPostgres(t)

	t.Run("connects with pool settings", func(t *testing.T) {
		cfg := *pg.Config
		cfg.MaxOpenConns = 10

		db, err := NewDB(&cfg, zap.NewNop())
		require.NoError(t, err)
		defer db.Close()

		assert.NoError(t, db.Health(context.Background()))
		assert.Equal(t, 10, db.Stats().MaxOpenConnections)
	})

	t.Run("wrong password", func(t *testing.T) {
		cfg := *pg.Config
		cfg.Password = "wrong_password"

		db, err := NewDB(&cfg, zap.NewNop())

		assert.Nil(t, db)
		assert.ErrorContains(t, err, "failed to ping database")
	})
}

func TestNewDB_InvalidHost(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:         "nonexistent-host-12345",
		Port:         "5432",
		User:         "testuser",
		Password:     "testpass",
		Name:         "testdb",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	db, err := NewDB(cfg, zap.NewNop())

	assert.Nil(t, db)
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestHealth_AfterClose(t *testing.T) {
	skipWithoutDocker(t)
	pg := startPostgres(t)

	db, err := NewDB(pg.Config, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.Health(context.Background())
	assert.ErrorContains(t, err, "database health check failed")
}

func TestRunMigrations(t *testing.T) {
	skipWithoutDocker(t)
	pg := startPostgres(t)

	db, err := NewDB(pg.Config, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.RunMigrations("migrations"))
	assert.Equal(t, 2, countTables(t, db, "gateway_checkpoints", "credentials"))
	assert.Equal(t, 1, countTables(t, db, "schema_migrations"))

	// A second run finds nothing to apply.
	require.NoError(t, db.RunMigrations("migrations"))
	assert.Equal(t, 2, countTables(t, db, "gateway_checkpoints", "credentials"))
}

func TestRunMigrations_InvalidPath(t *testing.T) {
	skipWithoutDocker(t)
	pg := startPostgres(t)

	db, err := NewDB(pg.Config, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	err = db.RunMigrations("/nonexistent/path/to/migrations")
	assert.ErrorContains(t, err, "failed to create migrate instance")
}
