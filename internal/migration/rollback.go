package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/progress"
	"github.com/flameworker/glassmigrate/internal/state"
)

// RollbackSummary contains statistics of a restore.
type RollbackSummary struct {
	Restored int
	Failed   int
	Duration time.Duration
}

// RollbackManager restores units from the stored snapshot.
type RollbackManager struct {
	store    catalog.Store
	backups  *state.BackupStore
	flag     *state.CompletionFlag
	reporter *progress.Reporter
	step     int
	logger   *logger.Logger
}

// NewRollbackManager creates a rollback manager. reporter may be nil.
func NewRollbackManager(store catalog.Store, backups *state.BackupStore, flag *state.CompletionFlag, reporter *progress.Reporter, step int, log *logger.Logger) (*RollbackManager, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is nil")
	}
	if backups == nil {
		return nil, fmt.Errorf("backup store is nil")
	}
	if flag == nil {
		return nil, fmt.Errorf("completion flag is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &RollbackManager{
		store:    store,
		backups:  backups,
		flag:     flag,
		reporter: reporter,
		step:     step,
		logger:   log,
	}, nil
}

// Rollback writes every backed-up units value back to its item and commits
// once. Items that no longer exist are counted as failed and skipped. After a
// successful commit the completion flag is cleared and the snapshot deleted.
func (r *RollbackManager) Rollback(ctx context.Context) (*RollbackSummary, error) {
	start := time.Now()

	data, ok, err := r.backups.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	if !ok {
		return nil, ErrNoBackupFound
	}
	snapshot, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}

	// Start from committed state; anything staged by a failed phase is dropped
	r.store.Discard()

	summary := &RollbackSummary{}
	tracker := r.reporter.NewTracker(progress.PhaseRollback, len(snapshot), r.step, "Restoring catalog items")
	for i, entry := range snapshot {
		if err := ctx.Err(); err != nil {
			r.store.Discard()
			return nil, rollbackFailure(fmt.Errorf("interrupted after %d entries: %w", i, err))
		}

		if _, err := r.store.FetchItem(ctx, entry.ID); err != nil {
			summary.Failed++
			if errors.Is(err, catalog.ErrItemNotFound) {
				r.logger.Warnw("Backed-up item no longer exists", "id", entry.ID, "code", entry.Code)
			} else {
				r.logger.Warnw("Failed to look up backed-up item", "id", entry.ID, "error", err)
			}
			tracker.Advance(i + 1)
			continue
		}

		r.store.SetUnits(entry.ID, entry.Units)
		summary.Restored++
		tracker.Advance(i + 1)
	}

	if err := r.store.Save(ctx); err != nil {
		r.store.Discard()
		return nil, rollbackFailure(fmt.Errorf("failed to save restored items: %w", err))
	}
	tracker.Done()

	if err := r.flag.Clear(ctx); err != nil {
		return summary, rollbackFailure(fmt.Errorf("items restored but completion flag not cleared: %w", err))
	}
	if err := r.backups.Delete(ctx); err != nil {
		r.logger.Warnw("Failed to delete backup after restore", "key", r.backups.Key(), "error", err)
	}

	summary.Duration = time.Since(start)
	r.logger.Infow("Rollback complete",
		"restored", summary.Restored,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)
	return summary, nil
}
