package migration

import (
	"context"
	"fmt"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/logger"
)

// Validator checks the catalog after the executor has saved.
type Validator struct {
	store    catalog.Store
	sentinel int64
	strict   bool
	logger   *logger.Logger
}

// NewValidator creates a validator. With strict set, items that still hold
// the sentinel fail validation instead of producing a warning.
func NewValidator(store catalog.Store, sentinel int64, strict bool, log *logger.Logger) (*Validator, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Validator{store: store, sentinel: sentinel, strict: strict, logger: log}, nil
}

// Validate returns an error if the store still has unsaved changes or cannot
// be read. It returns false when sentinel values remain; that is an error only
// in strict mode.
func (v *Validator) Validate(ctx context.Context) (bool, error) {
	if v.store.HasChanges() {
		return false, fmt.Errorf("%w: catalog has unsaved changes", ErrValidationFailed)
	}

	items, err := v.store.FetchItems(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	remaining := countSentinels(items, v.sentinel)
	if remaining == 0 {
		return true, nil
	}

	if v.strict {
		return false, fmt.Errorf("%w: %d items still hold the sentinel value", ErrValidationFailed, remaining)
	}
	v.logger.Warnw("Items still hold the sentinel value after migration",
		"remaining", remaining,
		"sentinel", v.sentinel,
	)
	return false, nil
}
