package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/database"
	"github.com/flameworker/glassmigrate/internal/lock"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/metrics"
	"github.com/flameworker/glassmigrate/internal/migration"
	"github.com/flameworker/glassmigrate/internal/progress"
)

var migrateForce bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the startup units migration",
	Long: `Migrate rewrites every catalog item whose units equal the legacy sentinel
to the configured default, leaving all other items untouched.

The run follows these steps:
  1. Skip if the completion flag is set or the catalog is empty
  2. Store a snapshot of every item's units in the state store
  3. Rewrite sentinel units in batches and commit once
  4. Validate that no sentinel values remain
  5. Set the completion flag and delete the snapshot

Any failure after step 2 restores the snapshot. If the restore itself fails
the command exits non-zero and the snapshot is kept for manual recovery.

Example:
  glassmigrate migrate --config glassmigrate.yaml`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false,
		"Run without the advisory lock (use with caution)")

	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Infow("Starting units migration",
		"config", GetConfigFile(),
		"flag_key", cfg.Migration.FlagKey,
	)

	ctx, stop := database.NotifyShutdown(context.Background(), func(sig os.Signal, count int) {
		if count == 1 {
			log.Warnw("Received shutdown signal; stopping after the current batch", "signal", sig.String())
			return
		}
		log.Warnw("Shutdown already requested; waiting for any rollback to finish", "signal", sig.String())
	})
	defer stop()

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewMigrationMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	coordinator, err := migration.NewCoordinator(s.store, s.state, cfg.Migration, log, m)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	coordinator.OnProgress(func(e progress.Event) {
		log.Debugw("Progress",
			"phase", e.Phase,
			"current", e.Current,
			"total", e.Total,
			"percent", e.Percent,
		)
	})

	var result *migration.Result
	err = withMigrationLock(ctx, cfg, s, migrateForce, log, func() error {
		var runErr error
		result, runErr = coordinator.PerformStartupMigration(ctx)
		return runErr
	})

	if werr := m.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
		log.Warnw("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", werr)
	}

	if result != nil {
		runSummary(result).Render(cmd.OutOrStdout())
	}

	if err != nil {
		if migration.IsManualInterventionRequired(err) {
			cmd.PrintErrln(color.Red.Sprintf("\nRollback failed. The snapshot under %q was kept; "+
				"restore it with 'glassmigrate rollback' once the cause is fixed.", cfg.Migration.BackupKey))
		}
		return fmt.Errorf("units migration failed: %w", err)
	}
	return nil
}

// withMigrationLock runs fn under the MySQL advisory lock for the configured
// flag key. SQLite state stores are single-host files, so no lock is taken.
func withMigrationLock(ctx context.Context, cfg *config.Config, s *session, force bool, log *logger.Logger, fn func() error) error {
	if !cfg.State.IsMySQL() {
		return fn()
	}
	if force {
		log.Warnw("Skipping advisory lock acquisition (--force flag used)", "flag_key", cfg.Migration.FlagKey)
		return fn()
	}

	l := lock.NewMigrationLock(s.dbm.State, cfg.Migration.FlagKey, log)
	err := l.WithLock(ctx, cfg.Migration.LockTimeoutSeconds, fn)
	if errors.Is(err, lock.ErrLockTimeout) {
		return fmt.Errorf("migration '%s' is already running on another instance (use --force to override): %w",
			cfg.Migration.FlagKey, err)
	}
	return err
}
