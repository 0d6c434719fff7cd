package cmd

import (
	"context"
	"fmt"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/database"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/state"
)

// loadConfig reads the config file, applies CLI overrides and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	overrides := GetCLIOverrides()
	cfg.ApplyOverrides(overrides.LogLevel, overrides.LogFormat,
		overrides.BatchSize, overrides.MetricsTextfile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setup loads configuration and builds the logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// session holds the open databases and stores shared by the data commands.
type session struct {
	dbm   *database.Manager
	store *catalog.SQLStore
	state *state.GormStore
}

// openSession connects both databases, checks the catalog tables and opens
// the state store. The caller must Close the session.
func openSession(ctx context.Context, cfg *config.Config, log *logger.Logger) (*session, error) {
	dbm := database.NewManager(cfg)
	if err := dbm.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to databases: %w", err)
	}
	if err := dbm.Ping(ctx); err != nil {
		dbm.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	store, err := catalog.NewSQLStore(dbm.Catalog, cfg.Catalog.ItemsTable, cfg.Catalog.InventoryTable, log)
	if err != nil {
		dbm.Close()
		return nil, fmt.Errorf("failed to create catalog store: %w", err)
	}
	if err := store.Preflight(ctx); err != nil {
		dbm.Close()
		return nil, err
	}

	st, err := state.OpenGormStore(ctx, dbm.State, cfg.State.Driver, log)
	if err != nil {
		dbm.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	return &session{dbm: dbm, store: store, state: st}, nil
}

func (s *session) Close() error {
	return s.dbm.Close()
}
