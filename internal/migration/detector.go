package migration

import (
	"context"
	"fmt"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/state"
)

// Detector decides whether a migration run is needed. It never mutates anything.
type Detector struct {
	store    catalog.Store
	flag     *state.CompletionFlag
	sentinel int64
	logger   *logger.Logger
}

// Inspection is a read-only view of migration-relevant catalog state.
type Inspection struct {
	FlagSet        bool
	Total          int
	SentinelItems  int
	NeedsMigration bool
}

// NewDetector creates a detector. Items with Units == sentinel need migrating.
func NewDetector(store catalog.Store, flag *state.CompletionFlag, sentinel int64, log *logger.Logger) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is nil")
	}
	if flag == nil {
		return nil, fmt.Errorf("completion flag is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Detector{store: store, flag: flag, sentinel: sentinel, logger: log}, nil
}

// NeedsMigration returns false when the completion flag is set, regardless of
// item contents. Otherwise it returns true iff at least one item holds the sentinel.
func (d *Detector) NeedsMigration(ctx context.Context) (bool, error) {
	done, err := d.flag.IsSet(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read completion flag: %w", err)
	}
	if done {
		d.logger.Debug("Completion flag set, skipping item scan")
		return false, nil
	}

	items, err := d.store.FetchItems(ctx)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		d.logger.Debug("Catalog is empty, nothing to migrate")
		return false, nil
	}

	for _, item := range items {
		if item.Units == d.sentinel {
			return true, nil
		}
	}
	return false, nil
}

// Inspect reports the flag and sentinel counts without short-circuiting on the flag.
func (d *Detector) Inspect(ctx context.Context) (*Inspection, error) {
	done, err := d.flag.IsSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion flag: %w", err)
	}
	items, err := d.store.FetchItems(ctx)
	if err != nil {
		return nil, err
	}

	n := countSentinels(items, d.sentinel)
	return &Inspection{
		FlagSet:        done,
		Total:          len(items),
		SentinelItems:  n,
		NeedsMigration: !done && n > 0,
	}, nil
}

func countSentinels(items []catalog.Item, sentinel int64) int {
	n := 0
	for _, item := range items {
		if item.Units == sentinel {
			n++
		}
	}
	return n
}
