package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("localstore: database handle is required")
	// ErrRecordNotFound indicates that no local record has the requested id.
	ErrRecordNotFound = errors.New("localstore: record not found")
)

const (
	queryRecordID    = "record_id = ?"
	orderPositionAsc = "position ASC"
)

// Store is the on-device record set. GetAll and SaveAll operate on the whole collection.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore wraps an opened local database.
func NewStore(db *gorm.DB, clock func() time.Time, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, clock: clock, logger: logger}, nil
}

// GetAll returns every local record, including soft-deleted ones, in saved order.
func (s *Store) GetAll(ctx context.Context) ([]equipment.Record, error) {
	var rows []LocalRecord
	if err := s.db.WithContext(ctx).Order(orderPositionAsc).Find(&rows).Error; err != nil {
		s.logger.Error("local store read failed", zap.Error(err))
		return nil, fmt.Errorf("localstore: load records: %w", err)
	}
	records := make([]equipment.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			s.logger.Error("local record decode failed", zap.String("record_id", row.RecordID), zap.Error(err))
			return nil, fmt.Errorf("localstore: decode record %s: %w", row.RecordID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// SaveAll replaces the stored collection with records in one transaction.
func (s *Store) SaveAll(ctx context.Context, records []equipment.Record) error {
	rows := make([]LocalRecord, 0, len(records))
	for index, record := range records {
		rows = append(rows, newLocalRecord(record, index))
	}
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("1 = 1").Delete(&LocalRecord{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return transaction.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		s.logger.Error("local store write failed", zap.Int("records", len(records)), zap.Error(err))
		return fmt.Errorf("localstore: save records: %w", err)
	}
	return nil
}

// Get returns a single local record.
func (s *Store) Get(ctx context.Context, recordID string) (equipment.Record, error) {
	var row LocalRecord
	err := s.db.WithContext(ctx).Where(queryRecordID, recordID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return equipment.Record{}, ErrRecordNotFound
	}
	if err != nil {
		return equipment.Record{}, fmt.Errorf("localstore: load record %s: %w", recordID, err)
	}
	return row.toRecord()
}

// Put records a user edit. A blank id creates a new record with a fresh UUIDv7. The
// edited record is marked unsynced and its update time moves forward.
func (s *Store) Put(ctx context.Context, recordID string, fields equipment.Fields) (equipment.Record, error) {
	if err := fields.Validate(); err != nil {
		return equipment.Record{}, err
	}
	var saved equipment.Record
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		now := equipment.NewTimestamp(s.clock())
		if recordID == "" {
			generated, err := uuid.NewV7()
			if err != nil {
				return err
			}
			position, err := nextPosition(transaction)
			if err != nil {
				return err
			}
			saved = equipment.Record{ID: generated.String(), Fields: fields, CreateTime: now, UpdateTime: now}
			row := newLocalRecord(saved, position)
			return transaction.Create(&row).Error
		}

		normalized, err := equipment.NewRecordID(recordID)
		if err != nil {
			return err
		}
		var row LocalRecord
		err = transaction.Where(queryRecordID, normalized.String()).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		existing, err := row.toRecord()
		if err != nil {
			return err
		}
		existing.Fields = fields
		existing.UpdateTime = advance(existing.UpdateTime, now)
		existing.IsSynced = false
		saved = existing
		updated := newLocalRecord(existing, row.Position)
		return transaction.Save(&updated).Error
	})
	if err != nil {
		s.logger.Warn("local edit failed", zap.String("record_id", recordID), zap.Error(err))
		return equipment.Record{}, err
	}
	return saved, nil
}

// MarkDeleted soft-deletes a local record so the next push propagates the deletion.
// With permanent set the authority drops its canonical copy instead of flagging it.
func (s *Store) MarkDeleted(ctx context.Context, recordID string, permanent bool) (equipment.Record, error) {
	var saved equipment.Record
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var row LocalRecord
		err := transaction.Where(queryRecordID, recordID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		existing, err := row.toRecord()
		if err != nil {
			return err
		}
		existing.IsDeleted = true
		existing.PermanentDelete = permanent
		existing.IsSynced = false
		existing.UpdateTime = advance(existing.UpdateTime, equipment.NewTimestamp(s.clock()))
		saved = existing
		updated := newLocalRecord(existing, row.Position)
		return transaction.Save(&updated).Error
	})
	if err != nil {
		s.logger.Warn("local delete failed", zap.String("record_id", recordID), zap.Error(err))
		return equipment.Record{}, err
	}
	return saved, nil
}

func nextPosition(transaction *gorm.DB) (int, error) {
	var maxPosition *int
	if err := transaction.Model(&LocalRecord{}).Select("MAX(position)").Scan(&maxPosition).Error; err != nil {
		return 0, err
	}
	if maxPosition == nil {
		return 0, nil
	}
	return *maxPosition + 1, nil
}

// advance keeps update times strictly increasing for a single writer even when the
// wall clock stalls or steps back.
func advance(previous, now equipment.Timestamp) equipment.Timestamp {
	if now.After(previous) {
		return now
	}
	return equipment.NewTimestamp(previous.Time().Add(time.Millisecond))
}
