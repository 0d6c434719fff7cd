package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/progress"
	"github.com/flameworker/glassmigrate/internal/state"
)

// BackupSummary describes a stored snapshot.
type BackupSummary struct {
	Entries  int
	Bytes    int
	Duration time.Duration
}

// BackupManager snapshots the pre-migration units of every item.
type BackupManager struct {
	store    catalog.Store
	backups  *state.BackupStore
	reporter *progress.Reporter
	step     int
	logger   *logger.Logger
}

// NewBackupManager creates a backup manager. reporter may be nil.
func NewBackupManager(store catalog.Store, backups *state.BackupStore, reporter *progress.Reporter, step int, log *logger.Logger) (*BackupManager, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is nil")
	}
	if backups == nil {
		return nil, fmt.Errorf("backup store is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &BackupManager{store: store, backups: backups, reporter: reporter, step: step, logger: log}, nil
}

// CreateBackup writes a snapshot of all items, replacing any previous one.
// It is not resumable: an interrupted backup leaves a partial or missing
// snapshot, which is harmless because nothing has been mutated yet.
func (b *BackupManager) CreateBackup(ctx context.Context) (*BackupSummary, error) {
	start := time.Now()

	items, err := b.store.FetchItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupCreationFailed, err)
	}

	tracker := b.reporter.NewTracker(progress.PhaseBackup, len(items), b.step, "Backing up catalog items")
	snapshot := make(Snapshot, 0, len(items))
	for i, item := range items {
		snapshot = append(snapshot, EntryFromItem(item))
		tracker.Advance(i + 1)
	}

	data, err := snapshot.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupCreationFailed, err)
	}
	if err := b.backups.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupCreationFailed, err)
	}
	tracker.Done()

	summary := &BackupSummary{Entries: len(snapshot), Bytes: len(data), Duration: time.Since(start)}
	b.logger.Infow("Backup created",
		"entries", summary.Entries,
		"bytes", summary.Bytes,
		"key", b.backups.Key(),
	)
	return summary, nil
}
