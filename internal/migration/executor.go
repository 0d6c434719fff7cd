package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/progress"
)

const defaultBatchSize = 500

// Summary contains statistics of one executor run.
type Summary struct {
	Migrated             int
	Preserved            int
	DependentsChecked    int
	DependentsUnresolved int
	Duration             time.Duration
}

// Total returns the number of items visited.
func (s *Summary) Total() int {
	return s.Migrated + s.Preserved
}

// Executor rewrites sentinel units to the default value.
type Executor struct {
	store    catalog.Store
	cfg      config.MigrationConfig
	reporter *progress.Reporter
	logger   *logger.Logger
}

// NewExecutor creates an executor. reporter may be nil.
func NewExecutor(store catalog.Store, cfg config.MigrationConfig, reporter *progress.Reporter, log *logger.Logger) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is nil")
	}
	if cfg.DefaultUnits == cfg.Sentinel {
		return nil, fmt.Errorf("default units must differ from the sentinel (%d)", cfg.Sentinel)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Executor{store: store, cfg: cfg, reporter: reporter, logger: log}, nil
}

// Run stages the rewrite for every sentinel item, checks dependents, and
// commits everything with one Save. ctx is checked between batches; on
// cancellation or a failed save the staged changes are discarded and
// nothing is written.
func (e *Executor) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	// FetchItems returns a freshly allocated slice, so staging writes while
	// walking it cannot disturb the iteration.
	items, err := e.store.FetchItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items: %w", err)
	}

	tracker := e.reporter.NewTracker(progress.PhaseMigrate, len(items), e.cfg.ProgressStep, "Migrating item units")
	for batchStart := 0; batchStart < len(items); batchStart += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			e.store.Discard()
			return nil, fmt.Errorf("migration interrupted after %d items: %w", batchStart, err)
		}

		batchEnd := min(batchStart+e.cfg.BatchSize, len(items))
		for i := batchStart; i < batchEnd; i++ {
			item := items[i]
			if item.Units == e.cfg.Sentinel {
				e.store.SetUnits(item.ID, e.cfg.DefaultUnits)
				summary.Migrated++
			} else {
				summary.Preserved++
			}
			tracker.Advance(i + 1)
		}

		e.logger.Debugw("Batch staged",
			"from", batchStart,
			"to", batchEnd,
			"migrated", summary.Migrated,
		)
	}
	tracker.Done()

	if e.cfg.ValidateDependents {
		e.checkDependents(ctx, items, summary)
	}

	if err := e.store.Save(ctx); err != nil {
		e.store.Discard()
		return nil, fmt.Errorf("failed to save migrated items: %w", err)
	}

	summary.Duration = time.Since(start)
	e.logger.Infow("Migration pass complete",
		"migrated", summary.Migrated,
		"preserved", summary.Preserved,
		"dependents_checked", summary.DependentsChecked,
		"dependents_unresolved", summary.DependentsUnresolved,
		"duration", summary.Duration,
	)
	return summary, nil
}

// checkDependents confirms every inventory entry still resolves to an item.
// It is diagnostic only: problems are logged and counted, never returned.
func (e *Executor) checkDependents(ctx context.Context, items []catalog.Item, summary *Summary) {
	entries, err := e.store.FetchInventory(ctx)
	if err != nil {
		e.logger.Warnw("Skipping inventory reference check", "error", err)
		return
	}

	codes := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.Code != "" {
			codes[item.Code] = struct{}{}
		}
	}

	tracker := e.reporter.NewTracker(progress.PhaseMigrate, len(entries), e.cfg.ProgressStep, "Checking inventory references")
	for i, entry := range entries {
		summary.DependentsChecked++
		if _, ok := codes[entry.ItemCode]; !ok {
			summary.DependentsUnresolved++
			e.logger.Warnw("Inventory entry references unknown item",
				"entry_id", entry.ID,
				"item_code", entry.ItemCode,
			)
		}
		tracker.Advance(i + 1)
	}
	tracker.Done()
}
