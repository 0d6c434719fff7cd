// Package catalog provides access to the glass catalog records that the units
// migration reads and repairs.
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrItemNotFound is returned by FetchItem when no item has the given id.
	ErrItemNotFound = errors.New("catalog item not found")
	// ErrItemTypeUnavailable is returned when the items table cannot be resolved.
	ErrItemTypeUnavailable = errors.New("catalog item type unavailable")
)

// Item is a catalog entry for one glass product.
// Units == sentinel (see migration config) means the value was never initialized.
type Item struct {
	ID    string
	Code  string
	Name  string
	Units int64
}

// InventoryEntry references a catalog item by its manufacturer code.
// The migration only reads these to confirm references still resolve.
type InventoryEntry struct {
	ID       string
	ItemCode string
}

// Store is the record store consumed by the migration engine.
//
// Mutations are staged with SetUnits and become durable only on Save, which
// commits every staged change atomically. Fetches observe staged values.
type Store interface {
	FetchItems(ctx context.Context) ([]Item, error)
	FetchItem(ctx context.Context, id string) (Item, error)
	FetchInventory(ctx context.Context) ([]InventoryEntry, error)
	SetUnits(id string, units int64)
	Save(ctx context.Context) error
	Discard()
	HasChanges() bool
}
