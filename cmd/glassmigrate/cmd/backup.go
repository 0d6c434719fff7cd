package cmd

import (
	"context"
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/flameworker/glassmigrate/internal/migration"
	"github.com/flameworker/glassmigrate/internal/progress"
	"github.com/flameworker/glassmigrate/internal/state"
)

var (
	backupOverwrite bool
	backupForce     bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot catalog units without migrating",
	Long: `Backup stores a snapshot of every item's id, code, name and units in the
state store under the configured backup key. No catalog data is changed.

An existing snapshot may be the only copy of pre-migration values, so it is
kept unless --overwrite is given.

Example:
  glassmigrate backup --config glassmigrate.yaml`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupOverwrite, "overwrite", false,
		"Replace an existing snapshot")
	backupCmd.Flags().BoolVar(&backupForce, "force", false,
		"Run without the advisory lock (use with caution)")

	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	backups := state.NewBackupStore(s.state, cfg.Migration.BackupKey)
	manager, err := migration.NewBackupManager(s.store, backups,
		progress.NewReporter(), cfg.Migration.ProgressStep, log)
	if err != nil {
		return fmt.Errorf("failed to create backup manager: %w", err)
	}

	var summary *migration.BackupSummary
	err = withMigrationLock(ctx, cfg, s, backupForce, log, func() error {
		exists, err := backups.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check for existing backup: %w", err)
		}
		if exists && !backupOverwrite {
			return fmt.Errorf("a snapshot already exists under '%s' (use --overwrite to replace it)", backups.Key())
		}
		summary, err = manager.CreateBackup(ctx)
		return err
	})
	if err != nil {
		return err
	}

	t := newSummaryTable("Backup")
	t.Add("Key", backups.Key())
	t.Add("Entries", summary.Entries)
	t.Add("Size", fmt.Sprintf("%d bytes", summary.Bytes))
	t.Add("Duration", summary.Duration)
	t.Render(cmd.OutOrStdout())

	cmd.Println(color.Green.Sprint("\n✓ Backup stored"))
	return nil
}
