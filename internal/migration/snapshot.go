package migration

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/flameworker/glassmigrate/internal/catalog"
)

// SnapshotEntry is the backed-up state of one item.
type SnapshotEntry struct {
	ID    string `json:"id"`
	Code  string `json:"code,omitempty"`
	Name  string `json:"name,omitempty"`
	Units int64  `json:"units"`
}

// Snapshot is the ordered pre-migration state of every item.
type Snapshot []SnapshotEntry

// EntryFromItem projects an item onto its snapshot entry.
func EntryFromItem(item catalog.Item) SnapshotEntry {
	return SnapshotEntry{ID: item.ID, Code: item.Code, Name: item.Name, Units: item.Units}
}

// Encode serializes the snapshot as a JSON array. An empty snapshot encodes as [].
func (s Snapshot) Encode() ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// storedEntry mirrors SnapshotEntry with units as a pointer, so a missing
// units value can be told apart from a stored zero.
type storedEntry struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Units *int64 `json:"units"`
}

// DecodeSnapshot parses a stored snapshot. Any malformed input, including
// entries without an id or without units, yields ErrBackupCorrupted.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var stored []storedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupCorrupted, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: snapshot is not an array", ErrBackupCorrupted)
	}

	s := make(Snapshot, 0, len(stored))
	for i, e := range stored {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrBackupCorrupted, i)
		}
		if e.Units == nil {
			return nil, fmt.Errorf("%w: entry %d (%s) has no units", ErrBackupCorrupted, i, e.ID)
		}
		s = append(s, SnapshotEntry{ID: e.ID, Code: e.Code, Name: e.Name, Units: *e.Units})
	}
	return s, nil
}
