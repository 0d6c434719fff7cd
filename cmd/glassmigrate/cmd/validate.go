package cmd

import (
	"context"
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/database"
	"github.com/flameworker/glassmigrate/internal/lock"
	"github.com/flameworker/glassmigrate/internal/state"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and run preflight checks",
	Long: `Validate checks the configuration file and runs preflight checks
against both databases without changing catalog data.

Checks performed:
  - Configuration syntax and required fields
  - Database connectivity (catalog, state)
  - Catalog items and inventory table existence
  - State table creation
  - Migration lock availability (MySQL state stores)

Example:
  glassmigrate validate --config glassmigrate.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		cmd.Println(color.Red.Sprintf("❌ Configuration invalid: %v", err))
		return err
	}
	defer log.Sync()

	log.Info("Starting validation checks...")

	cmd.Printf("\n=== Configuration Validation ===\n")
	cmd.Printf("Config file: %s\n", GetConfigFile())
	cmd.Printf("Catalog: %s (%s, %s)\n", cfg.Catalog.Driver, cfg.Catalog.ItemsTable, cfg.Catalog.InventoryTable)
	cmd.Printf("State: %s\n", cfg.State.Driver)
	cmd.Println(color.Green.Sprint("✅ Configuration valid"))

	ctx := context.Background()
	dbm := database.NewManager(cfg)
	if err := dbm.Connect(ctx); err != nil {
		cmd.Println(color.Red.Sprintf("❌ Connection failed: %v", err))
		return fmt.Errorf("failed to connect to databases: %w", err)
	}
	defer dbm.Close()

	if err := dbm.Ping(ctx); err != nil {
		cmd.Println(color.Red.Sprintf("❌ Ping failed: %v", err))
		return fmt.Errorf("database connection failed: %w", err)
	}
	cmd.Println(color.Green.Sprint("✅ Databases reachable"))

	hasErrors := false

	store, err := catalog.NewSQLStore(dbm.Catalog, cfg.Catalog.ItemsTable, cfg.Catalog.InventoryTable, log)
	if err == nil {
		err = store.Preflight(ctx)
	}
	if err != nil {
		cmd.Println(color.Red.Sprintf("❌ Catalog check failed: %v", err))
		hasErrors = true
	} else {
		cmd.Println(color.Green.Sprint("✅ Catalog tables present"))
	}

	if _, err := state.OpenGormStore(ctx, dbm.State, cfg.State.Driver, log); err != nil {
		cmd.Println(color.Red.Sprintf("❌ State store check failed: %v", err))
		hasErrors = true
	} else {
		cmd.Println(color.Green.Sprint("✅ State store ready"))
	}

	if cfg.State.IsMySQL() {
		name := lock.MigrationLockName(cfg.Migration.FlagKey)
		held, err := lock.IsLocked(ctx, dbm.State, name)
		switch {
		case err != nil:
			cmd.Println(color.Red.Sprintf("❌ Lock check failed: %v", err))
			hasErrors = true
		case held:
			cmd.Println(color.Yellow.Sprintf("⚠ Lock %s is held by another session", name))
		default:
			cmd.Println(color.Green.Sprintf("✅ Lock %s is free", name))
		}
	}

	if hasErrors {
		return fmt.Errorf("validation failed")
	}

	cmd.Println("\n=== Validation Complete ===")
	return nil
}
