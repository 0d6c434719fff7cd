// Package database provides connection management for the catalog and state databases.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "modernc.org/sqlite"             // SQLite driver (registers "sqlite")

	"github.com/flameworker/glassmigrate/internal/config"
)

// connectAttempts is the total number of connection attempts per database.
const connectAttempts = 3

// Manager handles database connections for the catalog and the migration state store.
type Manager struct {
	Catalog *sql.DB
	State   *sql.DB
	config  *config.Config

	// initialInterval is the first retry delay; tests shrink it.
	initialInterval time.Duration
}

// NewManager creates a new database manager from configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		config:          cfg,
		initialInterval: time.Second,
	}
}

// Connect establishes connections to the catalog and state databases.
func (m *Manager) Connect(ctx context.Context) error {
	var err error

	m.Catalog, err = m.connectWithRetry(ctx, "catalog", &m.config.Catalog)
	if err != nil {
		return fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	m.State, err = m.connectWithRetry(ctx, "state", &m.config.State)
	if err != nil {
		m.Catalog.Close()
		m.Catalog = nil
		return fmt.Errorf("failed to connect to state database: %w", err)
	}

	return nil
}

// ConnectState establishes the state database connection only.
// Use this when only the flag and backup are needed (e.g. status without a catalog).
func (m *Manager) ConnectState(ctx context.Context) error {
	var err error

	m.State, err = m.connectWithRetry(ctx, "state", &m.config.State)
	if err != nil {
		return fmt.Errorf("failed to connect to state database: %w", err)
	}

	return nil
}

// connectWithRetry attempts to connect with exponential backoff.
func (m *Manager) connectWithRetry(ctx context.Context, name string, cfg *config.DatabaseConfig) (*sql.DB, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initialInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempts := 0
	operation := func() (*sql.DB, error) {
		attempts++
		db, err := Open(cfg)
		if err != nil {
			// Bad driver or DSN will not fix itself.
			return nil, backoff.Permanent(err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s ping failed: %w", name, err)
		}
		return db, nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, connectAttempts-1), ctx)
	db, err := backoff.RetryWithData(operation, b)
	if err != nil {
		return nil, fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}
	return db, nil
}

// Open creates (but does not ping) a connection pool for the configured driver.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	var (
		driverName string
		dsn        string
	)

	switch cfg.Driver {
	case config.DriverMySQL:
		driverName, dsn = "mysql", BuildDSN(cfg)
	case config.DriverSQLite, "":
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory %q: %w", dir, err)
			}
		}
		driverName, dsn = "sqlite", BuildSQLiteDSN(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// BuildDSN constructs a MySQL DSN from configuration.
func BuildDSN(cfg *config.DatabaseConfig) string {
	// Format: user:password@tcp(host:port)/database?params
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
	)

	if cfg.Database != "" {
		dsn += cfg.Database
	}

	params := "?parseTime=true"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// BuildSQLiteDSN constructs a modernc.org/sqlite DSN with a busy timeout so that
// a concurrent reader does not fail the commit of a phase.
func BuildSQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Close closes all database connections gracefully.
func (m *Manager) Close() error {
	var errs []error

	if m.State != nil {
		if err := m.State.Close(); err != nil {
			errs = append(errs, fmt.Errorf("state close: %w", err))
		}
	}

	if m.Catalog != nil {
		if err := m.Catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("catalog close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// Ping verifies all connections are alive.
func (m *Manager) Ping(ctx context.Context) error {
	if m.Catalog != nil {
		if err := m.Catalog.PingContext(ctx); err != nil {
			return fmt.Errorf("catalog ping failed: %w", err)
		}
	}

	if m.State != nil {
		if err := m.State.PingContext(ctx); err != nil {
			return fmt.Errorf("state ping failed: %w", err)
		}
	}

	return nil
}
