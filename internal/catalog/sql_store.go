package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/sqlutil"
)

// SQLStore implements Store over a MySQL or SQLite catalog database.
//
// Staged units changes live in memory until Save, which applies them in a
// single transaction. SQLStore is safe for concurrent use.
type SQLStore struct {
	db             *sql.DB
	itemsName      string
	inventoryName  string
	itemsTable     string // quoted
	inventoryTable string // quoted
	logger         *logger.Logger

	mu      sync.Mutex
	pending map[string]int64
	order   []string // ids in staging order, so commits are deterministic
}

// NewSQLStore creates a catalog store over the given tables.
func NewSQLStore(db *sql.DB, itemsTable, inventoryTable string, log *logger.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	items, err := sqlutil.QuoteIdentifierSafe(itemsTable)
	if err != nil {
		return nil, fmt.Errorf("items table: %w", err)
	}
	inventory, err := sqlutil.QuoteIdentifierSafe(inventoryTable)
	if err != nil {
		return nil, fmt.Errorf("inventory table: %w", err)
	}
	if log == nil {
		log = logger.NewDefault()
	}

	return &SQLStore{
		db:             db,
		itemsName:      itemsTable,
		inventoryName:  inventoryTable,
		itemsTable:     items,
		inventoryTable: inventory,
		logger:         log.WithTable(itemsTable),
		pending:        make(map[string]int64),
	}, nil
}

// FetchItems returns every catalog item ordered by id, with staged values applied.
func (s *SQLStore) FetchItems(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, name, units FROM "+s.itemsTable+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog items: %w", err)
	}

	s.mu.Lock()
	for i := range items {
		if units, ok := s.pending[items[i].ID]; ok {
			items[i].Units = units
		}
	}
	s.mu.Unlock()

	return items, nil
}

// FetchItem returns the item with the given id or ErrItemNotFound.
func (s *SQLStore) FetchItem(ctx context.Context, id string) (Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, code, name, units FROM "+s.itemsTable+" WHERE id = ?", id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return Item{}, err
	}

	s.mu.Lock()
	if units, ok := s.pending[id]; ok {
		item.Units = units
	}
	s.mu.Unlock()

	return item, nil
}

// FetchInventory returns every inventory entry.
func (s *SQLStore) FetchInventory(ctx context.Context) ([]InventoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, item_code FROM "+s.inventoryTable+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	var entries []InventoryEntry
	for rows.Next() {
		var (
			entry InventoryEntry
			code  sql.NullString
		)
		if err := rows.Scan(&entry.ID, &code); err != nil {
			return nil, fmt.Errorf("failed to scan inventory entry: %w", err)
		}
		entry.ItemCode = code.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inventory: %w", err)
	}

	return entries, nil
}

// SetUnits stages a units change for the item. Nothing is written until Save.
func (s *SQLStore) SetUnits(id string, units int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, staged := s.pending[id]; !staged {
		s.order = append(s.order, id)
	}
	s.pending[id] = units
}

// Save commits all staged changes in one transaction. On failure nothing is
// written and the staged changes are kept; callers decide whether to Discard.
func (s *SQLStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog transaction: %w", err)
	}

	// Roll back unless the commit below succeeds
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Errorf("Failed to rollback transaction: %v", rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, "UPDATE "+s.itemsTable+" SET units = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare units update: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			s.logger.Warnf("Failed to close statement: %v", err)
		}
	}()

	missing := 0
	for _, id := range s.order {
		res, err := stmt.ExecContext(ctx, s.pending[id], id)
		if err != nil {
			return fmt.Errorf("failed to update units for item %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			missing++
			s.logger.Warnw("Staged item no longer exists", "id", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog transaction: %w", err)
	}
	tx = nil

	s.logger.Debugw("Catalog changes saved", "updated", len(s.order)-missing, "missing", missing)
	s.resetLocked()
	return nil
}

// Discard drops every staged change.
func (s *SQLStore) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// HasChanges reports whether there are staged changes not yet saved.
func (s *SQLStore) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order) > 0
}

func (s *SQLStore) resetLocked() {
	s.pending = make(map[string]int64)
	s.order = nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		item       Item
		code, name sql.NullString
	)
	if err := row.Scan(&item.ID, &code, &name, &item.Units); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, err
		}
		return Item{}, fmt.Errorf("failed to scan catalog item: %w", err)
	}
	item.Code = code.String
	item.Name = name.String
	return item, nil
}

var _ Store = (*SQLStore)(nil)
