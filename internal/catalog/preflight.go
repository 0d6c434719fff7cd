package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// PreflightError reports catalog tables that could not be resolved.
type PreflightError struct {
	Check   string
	Message string
	Tables  []string
}

func (e *PreflightError) Error() string {
	if len(e.Tables) > 0 {
		return fmt.Sprintf("%s: %s (tables: %v)", e.Check, e.Message, e.Tables)
	}
	return fmt.Sprintf("%s: %s", e.Check, e.Message)
}

// Unwrap lets callers match a failed preflight with errors.Is(err, ErrItemTypeUnavailable).
func (e *PreflightError) Unwrap() error {
	return ErrItemTypeUnavailable
}

// Preflight checks that the items and inventory tables exist and are readable.
// The probe selects no rows, so it works the same on MySQL and SQLite.
func (s *SQLStore) Preflight(ctx context.Context) error {
	s.logger.Debug("Checking catalog tables...")

	tables := []struct{ name, quoted string }{
		{s.itemsName, s.itemsTable},
		{s.inventoryName, s.inventoryTable},
	}

	var missing []string
	for _, t := range tables {
		ok, err := probeTable(ctx, s.db, t.quoted)
		if err != nil {
			return fmt.Errorf("failed to probe table %s: %w", t.name, err)
		}
		if !ok {
			missing = append(missing, t.name)
		}
	}

	if len(missing) > 0 {
		return &PreflightError{
			Check:   "TABLE_EXISTENCE_CHECK",
			Message: "Tables not found in catalog database",
			Tables:  missing,
		}
	}

	s.logger.Debugf("Table existence check PASSED (%d tables)", len(tables))
	return nil
}

// probeTable returns false when the table cannot be selected from. Context
// errors are returned as-is so a canceled run is not reported as a missing table.
func probeTable(ctx context.Context, db *sql.DB, quoted string) (bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT 1 FROM "+quoted+" WHERE 1 = 0")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, nil
	}
	return true, rows.Close()
}
