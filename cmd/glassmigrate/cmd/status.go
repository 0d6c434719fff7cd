package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/lock"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/migration"
	"github.com/flameworker/glassmigrate/internal/state"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status without changing anything",
	Long: `Status reports the completion flag, whether a snapshot is stored, how many
catalog items still carry the sentinel value, and whether another instance
holds the migration lock.

Example:
  glassmigrate status --config glassmigrate.yaml -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text",
		"Output format (text, json, yaml)")

	rootCmd.AddCommand(statusCmd)
}

// statusReport is the read-only view printed by status.
type statusReport struct {
	FlagKey        string `json:"flag_key" yaml:"flag_key"`
	Completed      bool   `json:"completed" yaml:"completed"`
	Items          int    `json:"items" yaml:"items"`
	SentinelItems  int    `json:"sentinel_items" yaml:"sentinel_items"`
	NeedsMigration bool   `json:"needs_migration" yaml:"needs_migration"`
	BackupKey      string `json:"backup_key" yaml:"backup_key"`
	BackupPresent  bool   `json:"backup_present" yaml:"backup_present"`
	BackupEntries  int    `json:"backup_entries" yaml:"backup_entries"`
	BackupCorrupt  bool   `json:"backup_corrupt,omitempty" yaml:"backup_corrupt,omitempty"`
	LockHeld       *bool  `json:"lock_held,omitempty" yaml:"lock_held,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	switch statusOutput {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format '%s' (use text, json or yaml)", statusOutput)
	}

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

	report, err := collectStatus(ctx, cfg, s, log)
	if err != nil {
		return err
	}
	return writeStatus(cmd.OutOrStdout(), statusOutput, report)
}

func collectStatus(ctx context.Context, cfg *config.Config, s *session, log *logger.Logger) (*statusReport, error) {
	flag := state.NewCompletionFlag(s.state, cfg.Migration.FlagKey)
	backups := state.NewBackupStore(s.state, cfg.Migration.BackupKey)

	detector, err := migration.NewDetector(s.store, flag, cfg.Migration.Sentinel, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	inspection, err := detector.Inspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect catalog: %w", err)
	}

	report := &statusReport{
		FlagKey:        flag.Key(),
		Completed:      inspection.FlagSet,
		Items:          inspection.Total,
		SentinelItems:  inspection.SentinelItems,
		NeedsMigration: inspection.NeedsMigration,
		BackupKey:      backups.Key(),
	}

	data, ok, err := backups.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	if ok {
		report.BackupPresent = true
		snapshot, err := migration.DecodeSnapshot(data)
		switch {
		case errors.Is(err, migration.ErrBackupCorrupted):
			report.BackupCorrupt = true
		case err != nil:
			return nil, err
		default:
			report.BackupEntries = len(snapshot)
		}
	}

	if cfg.State.IsMySQL() {
		held, err := lock.IsLocked(ctx, s.dbm.State, lock.MigrationLockName(cfg.Migration.FlagKey))
		if err != nil {
			log.Warnw("Failed to check migration lock", "error", err)
		} else {
			report.LockHeld = &held
		}
	}
	return report, nil
}

func writeStatus(w io.Writer, format string, r *statusReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}

	t := newSummaryTable("Migration Status")
	t.Add("Flag", r.FlagKey)
	t.Add("Completed", yesNo(r.Completed))
	t.Add("Items", r.Items)
	t.Add("Sentinel items", r.SentinelItems)
	t.Add("Needs migration", yesNo(r.NeedsMigration))
	t.Add("Backup", r.BackupKey)
	switch {
	case r.BackupCorrupt:
		t.Add("Backup present", "yes (corrupted)")
	case r.BackupPresent:
		t.Add("Backup present", fmt.Sprintf("yes (%d entries)", r.BackupEntries))
	default:
		t.Add("Backup present", "no")
	}
	if r.LockHeld != nil {
		t.Add("Lock held", yesNo(*r.LockHeld))
	}
	t.Render(w)
	return nil
}
