package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flameworker/glassmigrate/internal/sqlutil"
)

// The DDL below is accepted by both MySQL and SQLite.
const (
	itemsDDL = `CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		code VARCHAR(255) NULL,
		name VARCHAR(255) NULL,
		units BIGINT NOT NULL DEFAULT 0
	)`
	inventoryDDL = `CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		item_code VARCHAR(255) NOT NULL
	)`
)

// EnsureSchema creates the catalog tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB, itemsTable, inventoryTable string) error {
	items, err := sqlutil.QuoteIdentifierSafe(itemsTable)
	if err != nil {
		return fmt.Errorf("items table: %w", err)
	}
	inventory, err := sqlutil.QuoteIdentifierSafe(inventoryTable)
	if err != nil {
		return fmt.Errorf("inventory table: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(itemsDDL, items)); err != nil {
		return fmt.Errorf("failed to create %s: %w", itemsTable, err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(inventoryDDL, inventory)); err != nil {
		return fmt.Errorf("failed to create %s: %w", inventoryTable, err)
	}
	return nil
}

// InsertItems writes items directly, bypassing staging. Items without an id
// get a generated one; the assigned ids are returned in input order.
func InsertItems(ctx context.Context, db *sql.DB, itemsTable string, items ...Item) ([]string, error) {
	table, err := sqlutil.QuoteIdentifierSafe(itemsTable)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	ids := make([]string, len(items))
	for i, item := range items {
		if item.ID == "" {
			item.ID = NewID()
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (id, code, name, units) VALUES (?, ?, ?, ?)",
			item.ID, nullString(item.Code), nullString(item.Name), item.Units)
		if err != nil {
			return nil, fmt.Errorf("failed to insert item %s: %w", item.ID, err)
		}
		ids[i] = item.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit inserts: %w", err)
	}
	tx = nil
	return ids, nil
}

// InsertInventory writes inventory entries directly.
func InsertInventory(ctx context.Context, db *sql.DB, inventoryTable string, entries ...InventoryEntry) error {
	table, err := sqlutil.QuoteIdentifierSafe(inventoryTable)
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.ID == "" {
			e.ID = NewID()
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO "+table+" (id, item_code) VALUES (?, ?)", e.ID, e.ItemCode); err != nil {
			errs = append(errs, fmt.Errorf("inventory entry %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// NewID returns a time-ordered UUIDv7, falling back to a random v4.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
