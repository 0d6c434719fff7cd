package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/flameworker/glassmigrate/internal/database"
	"github.com/flameworker/glassmigrate/internal/migration"
	"github.com/flameworker/glassmigrate/internal/progress"
	"github.com/flameworker/glassmigrate/internal/state"
)

var rollbackForce bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore catalog units from the stored snapshot",
	Long: `Rollback restores every item's units from the snapshot kept in the state
store, clears the completion flag, and deletes the snapshot.

A snapshot only survives a run whose automatic rollback failed, so this is
the recovery step after 'migrate' reported that manual intervention is
required. Items deleted since the snapshot are reported and skipped.

Example:
  glassmigrate rollback --config glassmigrate.yaml`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackForce, "force", false,
		"Run without the advisory lock (use with caution)")

	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := database.NotifyShutdown(context.Background(), func(sig os.Signal, count int) {
		log.Warnw("Received shutdown signal; the restore stops before its commit", "signal", sig.String(), "count", count)
	})
	defer stop()

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	backups := state.NewBackupStore(s.state, cfg.Migration.BackupKey)
	flag := state.NewCompletionFlag(s.state, cfg.Migration.FlagKey)
	manager, err := migration.NewRollbackManager(s.store, backups, flag,
		progress.NewReporter(), cfg.Migration.ProgressStep, log)
	if err != nil {
		return fmt.Errorf("failed to create rollback manager: %w", err)
	}

	var summary *migration.RollbackSummary
	err = withMigrationLock(ctx, cfg, s, rollbackForce, log, func() error {
		var runErr error
		summary, runErr = manager.Rollback(ctx)
		return runErr
	})
	if errors.Is(err, migration.ErrNoBackupFound) {
		cmd.Println(color.Yellow.Sprintf("No snapshot stored under %q; nothing to restore.", backups.Key()))
		return nil
	}
	if summary != nil {
		rollbackSummary(summary).Render(cmd.OutOrStdout())
	}
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	cmd.Println(color.Green.Sprint("\n✓ Catalog units restored"))
	return nil
}
