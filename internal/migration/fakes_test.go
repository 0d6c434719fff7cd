package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/progress"
	"github.com/flameworker/glassmigrate/internal/state"
)

var errDiskFull = errors.New("disk full")

// memCatalog is an in-memory catalog.Store with failure injection.
type memCatalog struct {
	mu        sync.Mutex
	items     []catalog.Item
	inventory []catalog.InventoryEntry
	pending   map[string]int64
	order     []string

	// saveErrs is consumed one entry per Save; a nil entry or an empty
	// queue means the save succeeds.
	saveErrs []error
	// partialWrites staged changes are committed before a failing save returns.
	partialWrites int
	fetchErr      error
	inventoryErr  error
	saves         int
	// afterSave runs under the lock after each successful save.
	afterSave func(*memCatalog)
}

func newMemCatalog(units ...int64) *memCatalog {
	m := &memCatalog{pending: make(map[string]int64)}
	for i, u := range units {
		m.items = append(m.items, catalog.Item{
			ID:    fmt.Sprintf("item-%d", i),
			Code:  fmt.Sprintf("EF-%03d", i),
			Name:  fmt.Sprintf("Glass %d", i),
			Units: u,
		})
	}
	return m
}

func (m *memCatalog) units() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.items))
	for i, it := range m.items {
		out[i] = it.Units
	}
	return out
}

func (m *memCatalog) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return
		}
	}
}

func (m *memCatalog) FetchItems(_ context.Context) ([]catalog.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := make([]catalog.Item, len(m.items))
	for i, it := range m.items {
		if u, ok := m.pending[it.ID]; ok {
			it.Units = u
		}
		out[i] = it
	}
	return out, nil
}

func (m *memCatalog) FetchItem(_ context.Context, id string) (catalog.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id {
			if u, ok := m.pending[id]; ok {
				it.Units = u
			}
			return it, nil
		}
	}
	return catalog.Item{}, fmt.Errorf("%w: %s", catalog.ErrItemNotFound, id)
}

func (m *memCatalog) FetchInventory(_ context.Context) ([]catalog.InventoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inventoryErr != nil {
		return nil, m.inventoryErr
	}
	return append([]catalog.InventoryEntry(nil), m.inventory...), nil
}

func (m *memCatalog) SetUnits(id string, units int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		m.order = append(m.order, id)
	}
	m.pending[id] = units
}

func (m *memCatalog) Save(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++

	var err error
	if len(m.saveErrs) > 0 {
		err, m.saveErrs = m.saveErrs[0], m.saveErrs[1:]
	}

	n := len(m.order)
	if err != nil {
		n = min(m.partialWrites, n)
	}
	for _, id := range m.order[:n] {
		for i := range m.items {
			if m.items[i].ID == id {
				m.items[i].Units = m.pending[id]
			}
		}
	}
	if err != nil {
		return err
	}
	m.pending = make(map[string]int64)
	m.order = nil
	if m.afterSave != nil {
		m.afterSave(m)
	}
	return nil
}

func (m *memCatalog) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]int64)
	m.order = nil
}

func (m *memCatalog) HasChanges() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order) > 0
}

// failingState wraps a state.Store and fails selected operations.
type failingState struct {
	state.Store
	setBoolErr error // returned when setting a flag to true
	setBlobErr error
	deleteErr  error
}

func (f *failingState) SetBool(ctx context.Context, key string, value bool) error {
	if value && f.setBoolErr != nil {
		return f.setBoolErr
	}
	return f.Store.SetBool(ctx, key, value)
}

func (f *failingState) SetBlob(ctx context.Context, key string, value []byte) error {
	if f.setBlobErr != nil {
		return f.setBlobErr
	}
	return f.Store.SetBlob(ctx, key, value)
}

func (f *failingState) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.Delete(ctx, key)
}

// eventLog collects progress events.
type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) record(e progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) phases() []progress.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []progress.Phase
	for _, e := range l.events {
		if len(out) == 0 || out[len(out)-1] != e.Phase {
			out = append(out, e.Phase)
		}
	}
	return out
}

func testMigrationConfig() config.MigrationConfig {
	cfg := config.DefaultConfig().Migration
	cfg.Sentinel = 0
	cfg.DefaultUnits = 1
	cfg.BatchSize = 2
	return cfg
}

func testLogger() *logger.Logger {
	return logger.NewNop()
}
