// Package state provides the durable key/value store that holds the migration
// completion flag and the backup snapshot, independent of the catalog database.
package state

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Store is a small durable key/blob store.
//
// Flags and blobs share one key namespace: a flag written with SetBool reads
// back through GetBlob as "true" or "false", and GetBool fails on a key that
// holds anything else. GetBool returns false for a missing key. GetBlob
// reports ok=false for a missing key. Delete of a missing key is not an error.
type Store interface {
	GetBool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	GetBlob(ctx context.Context, key string) ([]byte, bool, error)
	SetBlob(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store, used in tests and dry runs. Like
// GormStore it keeps flags and blobs in one key namespace: a flag is stored
// as its strconv text form.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// GetBool returns false when the key is missing.
func (m *MemoryStore) GetBool(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	value, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(string(value))
	if err != nil {
		return false, fmt.Errorf("state key %s holds a non-boolean value: %w", key, err)
	}
	return b, nil
}

func (m *MemoryStore) SetBool(ctx context.Context, key string, value bool) error {
	return m.SetBlob(ctx, key, []byte(strconv.FormatBool(value)))
}

func (m *MemoryStore) GetBlob(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *MemoryStore) SetBlob(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
