package syncengine

import (
	"context"
	"fmt"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
)

// DirtySet is the result of one scan over the local store.
type DirtySet struct {
	Upserts          []equipment.Record
	Deletes          []string
	PermanentDeletes []string
	// Snapshot maps every dirty id to the version that was scanned.
	Snapshot map[string]equipment.Record
}

// Size counts every dirty item.
func (d DirtySet) Size() int {
	return len(d.Upserts) + len(d.Deletes) + len(d.PermanentDeletes)
}

// Empty reports whether nothing needs pushing.
func (d DirtySet) Empty() bool {
	return d.Size() == 0
}

// ChangeTracker derives locally dirty records. It never writes.
type ChangeTracker struct {
	store RecordStore
}

// NewChangeTracker constructs a tracker over store.
func NewChangeTracker(store RecordStore) *ChangeTracker {
	return &ChangeTracker{store: store}
}

// DirtyUpserts returns records that are unsynced and not deleted.
func (t *ChangeTracker) DirtyUpserts(ctx context.Context) ([]equipment.Record, error) {
	dirty, err := t.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return dirty.Upserts, nil
}

// DirtyDeletes returns ids of unsynced soft-deleted records.
func (t *ChangeTracker) DirtyDeletes(ctx context.Context) ([]string, error) {
	dirty, err := t.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return dirty.Deletes, nil
}

// DirtyPermanentDeletes returns ids of unsynced records flagged for permanent deletion.
func (t *ChangeTracker) DirtyPermanentDeletes(ctx context.Context) ([]string, error) {
	dirty, err := t.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return dirty.PermanentDeletes, nil
}

// Scan reads the store once and classifies every unsynced record.
// A record without an id is a broken invariant and panics.
func (t *ChangeTracker) Scan(ctx context.Context) (DirtySet, error) {
	records, err := t.store.GetAll(ctx)
	if err != nil {
		return DirtySet{}, err
	}
	return classify(records), nil
}

func classify(records []equipment.Record) DirtySet {
	dirty := DirtySet{Snapshot: make(map[string]equipment.Record)}
	for index, record := range records {
		if record.ID == "" {
			panic(fmt.Sprintf("syncengine: local record at position %d has no id", index))
		}
		if record.IsSynced {
			continue
		}
		dirty.Snapshot[record.ID] = record
		switch {
		case !record.IsDeleted:
			dirty.Upserts = append(dirty.Upserts, record)
		case record.PermanentDelete:
			dirty.PermanentDeletes = append(dirty.PermanentDeletes, record.ID)
		default:
			dirty.Deletes = append(dirty.Deletes, record.ID)
		}
	}
	return dirty
}
