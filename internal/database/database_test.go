package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flameworker/glassmigrate/internal/config"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.DatabaseConfig
		expected string
	}{
		{
			name: "basic DSN",
			cfg: &config.DatabaseConfig{
				Host: "localhost", Port: 3306, User: "root", Password: "secret",
				Database: "molten", TLS: "preferred",
			},
			expected: "root:secret@tcp(localhost:3306)/molten?parseTime=true&tls=preferred",
		},
		{
			name: "DSN without database",
			cfg: &config.DatabaseConfig{
				Host: "localhost", Port: 3306, User: "root", Password: "secret",
			},
			expected: "root:secret@tcp(localhost:3306)/?parseTime=true&tls=preferred",
		},
		{
			name: "DSN with TLS disabled",
			cfg: &config.DatabaseConfig{
				Host: "localhost", Port: 3306, User: "root", Password: "secret",
				Database: "molten", TLS: "disable",
			},
			expected: "root:secret@tcp(localhost:3306)/molten?parseTime=true&tls=false",
		},
		{
			name: "DSN with TLS required",
			cfg: &config.DatabaseConfig{
				Host: "db.internal", Port: 3307, User: "admin", Password: "p@ss",
				Database: "molten", TLS: "required",
			},
			expected: "admin:p@ss@tcp(db.internal:3307)/molten?parseTime=true&tls=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildDSN(tt.cfg))
		})
	}
}

func TestBuildSQLiteDSN(t *testing.T) {
	dsn := BuildSQLiteDSN("/data/molten.db")
	assert.Equal(t, "file:/data/molten.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dsn)
}

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")

	db, err := Open(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: path, MaxConnections: 2})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.PingContext(context.Background()))
	assert.DirExists(t, filepath.Dir(path))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewManager(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewManager(cfg)

	require.NotNil(t, m)
	assert.Nil(t, m.Catalog)
	assert.Nil(t, m.State)
	assert.Equal(t, cfg, m.config)
}

func TestManagerCloseWithoutConnect(t *testing.T) {
	m := NewManager(config.DefaultConfig())
	assert.NoError(t, m.Close())
}

func TestManager_ConnectSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Catalog.Path = filepath.Join(dir, "molten.db")
	cfg.State.Path = filepath.Join(dir, "state.db")

	m := NewManager(cfg)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	defer m.Close()

	require.NotNil(t, m.Catalog)
	require.NotNil(t, m.State)
	assert.NoError(t, m.Ping(ctx))
}

func TestManager_ConnectStateOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.State.Path = filepath.Join(t.TempDir(), "state.db")

	m := NewManager(cfg)
	require.NoError(t, m.ConnectState(context.Background()))
	defer m.Close()

	assert.Nil(t, m.Catalog)
	assert.NotNil(t, m.State)
}

func TestManager_ConnectFailsFastOnPermanentError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Catalog.Driver = "oracle"

	m := NewManager(cfg)
	m.initialInterval = time.Millisecond

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to catalog database")
	assert.Contains(t, err.Error(), "failed after 1 attempts")
}

func TestManager_ConnectRetriesUnreachableMySQL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Catalog = config.DatabaseConfig{
		Driver: config.DriverMySQL,
		Host:   "127.0.0.1",
		Port:   1, // nothing listens here
		User:   "root",
		TLS:    "disable",
	}

	m := NewManager(cfg)
	m.initialInterval = time.Millisecond

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Nil(t, m.Catalog)
}
