package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	keyWatermark   = "watermark"
	keySyncState   = "sync_state"
	keyLastSuccess = "last_success"
	keyLastError   = "last_error"
)

// StateSnapshot is the persisted client sync state.
type StateSnapshot struct {
	Watermark   equipment.Timestamp
	SyncState   string
	LastSuccess equipment.Timestamp
	LastError   string
}

// StateStore persists the sync watermark and the coordinator state as key/value rows.
type StateStore struct {
	db *gorm.DB
}

// NewStateStore wraps an opened local database.
func NewStateStore(db *gorm.DB) (*StateStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &StateStore{db: db}, nil
}

// Watermark returns the last pull boundary, or the zero Timestamp when none was recorded.
func (s *StateStore) Watermark(ctx context.Context) (equipment.Timestamp, error) {
	value, err := s.get(ctx, s.db, keyWatermark)
	if err != nil {
		return equipment.Timestamp{}, err
	}
	return equipment.ParseTimestamp(value)
}

// AdvanceWatermark stores next unless it is earlier than the current watermark.
// The watermark never moves backwards.
func (s *StateStore) AdvanceWatermark(ctx context.Context, next equipment.Timestamp) error {
	if next.IsZero() {
		return fmt.Errorf("localstore: watermark must be set")
	}
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		value, err := s.get(ctx, transaction, keyWatermark)
		if err != nil {
			return err
		}
		current, err := equipment.ParseTimestamp(value)
		if err != nil {
			return err
		}
		if !current.IsZero() && !next.After(current) {
			return nil
		}
		return s.set(transaction, keyWatermark, next.String())
	})
}

// SyncState returns the persisted coordinator state; an empty string means none was stored.
func (s *StateStore) SyncState(ctx context.Context) (string, error) {
	return s.get(ctx, s.db, keySyncState)
}

// SetSyncState persists the coordinator state.
func (s *StateStore) SetSyncState(ctx context.Context, state string) error {
	return s.set(s.db.WithContext(ctx), keySyncState, state)
}

// RecordSuccess stores the completion time of a successful cycle and clears the last error.
func (s *StateStore) RecordSuccess(ctx context.Context, completedAt equipment.Timestamp) error {
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := s.set(transaction, keyLastSuccess, completedAt.String()); err != nil {
			return err
		}
		return s.set(transaction, keyLastError, "")
	})
}

// RecordFailure stores the message of the last failed cycle.
func (s *StateStore) RecordFailure(ctx context.Context, message string) error {
	return s.set(s.db.WithContext(ctx), keyLastError, message)
}

// Snapshot loads every persisted state value.
func (s *StateStore) Snapshot(ctx context.Context) (StateSnapshot, error) {
	var entries []StateEntry
	if err := s.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return StateSnapshot{}, fmt.Errorf("localstore: load state: %w", err)
	}
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		values[entry.Key] = entry.Value
	}
	watermark, err := equipment.ParseTimestamp(values[keyWatermark])
	if err != nil {
		return StateSnapshot{}, err
	}
	lastSuccess, err := equipment.ParseTimestamp(values[keyLastSuccess])
	if err != nil {
		return StateSnapshot{}, err
	}
	return StateSnapshot{
		Watermark:   watermark,
		SyncState:   values[keySyncState],
		LastSuccess: lastSuccess,
		LastError:   values[keyLastError],
	}, nil
}

func (s *StateStore) get(ctx context.Context, db *gorm.DB, key string) (string, error) {
	var entry StateEntry
	err := db.WithContext(ctx).Where("state_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("localstore: load %s: %w", key, err)
	}
	return entry.Value, nil
}

func (s *StateStore) set(db *gorm.DB, key, value string) error {
	entry := StateEntry{Key: key, Value: value}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_value"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("localstore: store %s: %w", key, err)
	}
	return nil
}
