package state

import "context"

// CompletionFlag is the durable "migration finished" marker.
type CompletionFlag struct {
	store Store
	key   string
}

// NewCompletionFlag binds a flag to key in store.
func NewCompletionFlag(store Store, key string) *CompletionFlag {
	return &CompletionFlag{store: store, key: key}
}

// Key returns the storage key.
func (f *CompletionFlag) Key() string { return f.key }

func (f *CompletionFlag) IsSet(ctx context.Context) (bool, error) {
	return f.store.GetBool(ctx, f.key)
}

func (f *CompletionFlag) Set(ctx context.Context) error {
	return f.store.SetBool(ctx, f.key, true)
}

func (f *CompletionFlag) Clear(ctx context.Context) error {
	return f.store.SetBool(ctx, f.key, false)
}

// BackupStore holds the single serialized backup snapshot.
type BackupStore struct {
	store Store
	key   string
}

// NewBackupStore binds the backup slot to key in store.
func NewBackupStore(store Store, key string) *BackupStore {
	return &BackupStore{store: store, key: key}
}

// Key returns the storage key.
func (b *BackupStore) Key() string { return b.key }

// Load returns the stored snapshot; ok is false when none exists.
func (b *BackupStore) Load(ctx context.Context) (data []byte, ok bool, err error) {
	return b.store.GetBlob(ctx, b.key)
}

// Save overwrites any previous snapshot.
func (b *BackupStore) Save(ctx context.Context, data []byte) error {
	return b.store.SetBlob(ctx, b.key, data)
}

func (b *BackupStore) Delete(ctx context.Context) error {
	return b.store.Delete(ctx, b.key)
}

// Exists reports whether a snapshot is stored.
func (b *BackupStore) Exists(ctx context.Context) (bool, error) {
	_, ok, err := b.store.GetBlob(ctx, b.key)
	return ok, err
}
