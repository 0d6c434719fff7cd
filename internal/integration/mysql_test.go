//go:build integration

// Package integration runs the migration against a real MySQL server.
// Requires Docker: go test -tags integration ./internal/integration/...
package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/database"
	"github.com/flameworker/glassmigrate/internal/lock"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/migration"
	"github.com/flameworker/glassmigrate/internal/state"
)

func startMySQL(t *testing.T) *config.Config {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("molten"),
		tcmysql.WithUsername("glass"),
		tcmysql.WithPassword("glass"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	db := config.DatabaseConfig{
		Driver:             config.DriverMySQL,
		Host:               host,
		Port:               port.Int(),
		User:               "glass",
		Password:           "glass",
		Database:           "molten",
		TLS:                "disable",
		MaxConnections:     4,
		MaxIdleConnections: 2,
		ItemsTable:         cfg.Catalog.ItemsTable,
		InventoryTable:     cfg.Catalog.InventoryTable,
	}
	cfg.Catalog = db
	cfg.State = db
	return cfg
}

func TestMySQL_FullCycle(t *testing.T) {
	ctx := context.Background()
	cfg := startMySQL(t)
	log := logger.NewNop()

	dbm := database.NewManager(cfg)
	require.NoError(t, dbm.Connect(ctx))
	t.Cleanup(func() { _ = dbm.Close() })

	require.NoError(t, catalog.EnsureSchema(ctx, dbm.Catalog, cfg.Catalog.ItemsTable, cfg.Catalog.InventoryTable))
	_, err := catalog.InsertItems(ctx, dbm.Catalog, cfg.Catalog.ItemsTable,
		catalog.Item{ID: "a", Code: "EF-001", Units: 0},
		catalog.Item{ID: "b", Code: "EF-002", Units: 1},
		catalog.Item{ID: "c", Units: 2},
	)
	require.NoError(t, err)

	store, err := catalog.NewSQLStore(dbm.Catalog, cfg.Catalog.ItemsTable, cfg.Catalog.InventoryTable, log)
	require.NoError(t, err)
	require.NoError(t, store.Preflight(ctx))

	st, err := state.OpenGormStore(ctx, dbm.State, config.DriverMySQL, log)
	require.NoError(t, err)

	c, err := migration.NewCoordinator(store, st, cfg.Migration, log, nil)
	require.NoError(t, err)

	l := lock.NewMigrationLock(dbm.State, cfg.Migration.FlagKey, log)
	err = l.WithLock(ctx, lock.TimeoutShort, func() error {
		result, err := c.PerformStartupMigration(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, result.Summary.Migrated)
		return nil
	})
	require.NoError(t, err)

	items, err := store.FetchItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(1), items[0].Units)
	assert.Equal(t, int64(1), items[1].Units)
	assert.Equal(t, int64(2), items[2].Units)

	done, err := st.GetBool(ctx, cfg.Migration.FlagKey)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMySQL_LockContention(t *testing.T) {
	ctx := context.Background()
	cfg := startMySQL(t)

	dbm := database.NewManager(cfg)
	require.NoError(t, dbm.ConnectState(ctx))
	t.Cleanup(func() { _ = dbm.Close() })

	first := lock.NewMigrationLock(dbm.State, "units", logger.NewNop())
	second := lock.NewMigrationLock(dbm.State, "units", logger.NewNop())

	require.NoError(t, first.AcquireOrFail(ctx, lock.TimeoutShort))

	locked, err := lock.IsLocked(ctx, dbm.State, first.Name())
	require.NoError(t, err)
	assert.True(t, locked)

	start := time.Now()
	err = second.AcquireOrFail(ctx, lock.TimeoutShort)
	assert.True(t, errors.Is(err, lock.ErrLockTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)

	released, err := first.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	require.NoError(t, second.AcquireOrFail(ctx, lock.TimeoutImmediate))
	_, err = second.Release(ctx)
	require.NoError(t, err)
}
