package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an "<operation>.<reason>" code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "authority.service.new"
	opApplyBatch  = "authority.apply_batch"
	opListChanges = "authority.list_changes"

	fieldRecordID   = "record_id"
	fieldOperatorID = "operator_id"

	queryRecordID          = "record_id = ?"
	queryPermanentForID    = "record_id = ? AND is_permanent = ?"
	queryLiveUpdatedAfter  = "is_deleted = ? AND update_time_ms > ?"
	queryDeletedAfter      = "delete_time_ms > ?"
	orderUpdateTimeAsc     = "update_time_ms ASC, record_id ASC"
	orderTombstoneIDAsc    = "tombstone_id ASC"
	reasonMissingDatabase  = "missing_database"
	reasonMissingIDs       = "missing_id_provider"
	reasonOverSizeLimit    = "over_size_limit"
	reasonInvalidBatch     = "invalid_batch"
	reasonRecordLookup     = "record_lookup_failed"
	reasonRecordSave       = "record_save_failed"
	reasonRecordDelete     = "record_delete_failed"
	reasonTombstoneLookup  = "tombstone_lookup_failed"
	reasonTombstoneInsert  = "tombstone_insert_failed"
	reasonIDGeneration     = "id_generation_failed"
	reasonQueryFailed      = "query_failed"
	defaultPullCacheTTL    = 3 * time.Second
	tombstoneKindSoft      = false
	tombstoneKindPermanent = true
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the authority service.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   IDProvider
	Logger       *zap.Logger
	MaxBatchSize int
	// PullCacheTTL of zero selects the default; a negative value disables the cache.
	PullCacheTTL time.Duration
}

// IDProvider issues identifiers for upserts that arrive without one.
type IDProvider interface {
	NewID() (string, error)
}

// Service owns the canonical record set and its tombstones.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	idProvider   IDProvider
	logger       *zap.Logger
	maxBatchSize int
	cache        *pullCache
}

// NewService validates the configuration and returns a ready Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDs, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	maxBatchSize := cfg.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	cacheTTL := cfg.PullCacheTTL
	if cacheTTL == 0 {
		cacheTTL = defaultPullCacheTTL
	}

	return &Service{
		db:           cfg.Database,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		logger:       logger,
		maxBatchSize: maxBatchSize,
		cache:        newPullCache(cacheTTL, clock),
	}, nil
}

// MaxBatchSize returns the configured item cap.
func (s *Service) MaxBatchSize() int {
	return s.maxBatchSize
}

// ApplyBatch applies upserts, soft deletes and permanent deletes as one transaction.
// Oversized or invalid batches are rejected before the database is touched.
func (s *Service) ApplyBatch(ctx context.Context, operatorID string, batch Batch) (ApplyResult, error) {
	if s.db == nil {
		s.logError(opApplyBatch, reasonMissingDatabase, errMissingDatabase)
		return ApplyResult{}, newServiceError(opApplyBatch, reasonMissingDatabase, errMissingDatabase)
	}
	if err := batch.validate(s.maxBatchSize); err != nil {
		reason := reasonInvalidBatch
		if errors.Is(err, ErrOverSizeLimit) {
			reason = reasonOverSizeLimit
		}
		s.logError(opApplyBatch, reason, err, zap.String(fieldOperatorID, operatorID), zap.Int("size", batch.Size()))
		return ApplyResult{}, newServiceError(opApplyBatch, reason, err)
	}
	if batch.Empty() {
		return ApplyResult{}, nil
	}

	var result ApplyResult
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result = ApplyResult{}
		nowMillis := s.clock().UTC().UnixMilli()
		for _, record := range batch.Upserts {
			changed, err := s.applyUpsert(transaction, operatorID, record, nowMillis)
			if err != nil {
				return err
			}
			result.UpdatedCount++
			if changed != "" {
				result.ChangedIDs = append(result.ChangedIDs, changed)
			}
		}
		for _, recordID := range batch.Deletes {
			changed, err := s.applyDelete(transaction, operatorID, recordID, tombstoneKindSoft, nowMillis)
			if err != nil {
				return err
			}
			result.DeletedCount++
			if changed {
				result.ChangedIDs = append(result.ChangedIDs, recordID)
			}
		}
		for _, recordID := range batch.PermanentDeletes {
			changed, err := s.applyDelete(transaction, operatorID, recordID, tombstoneKindPermanent, nowMillis)
			if err != nil {
				return err
			}
			result.DeletedCount++
			if changed {
				result.ChangedIDs = append(result.ChangedIDs, recordID)
			}
		}
		return nil
	})
	if transactionError != nil {
		return ApplyResult{}, transactionError
	}

	s.cache.invalidate()
	s.loggerOrDefault().Info("batch applied",
		zap.String(fieldOperatorID, operatorID),
		zap.Int("updated", result.UpdatedCount),
		zap.Int("deleted", result.DeletedCount),
		zap.Int("changed", len(result.ChangedIDs)))
	return result, nil
}

// applyUpsert returns the id of the record when its canonical state changed.
func (s *Service) applyUpsert(transaction *gorm.DB, operatorID string, record equipment.Record, nowMillis int64) (string, error) {
	recordID := record.ID
	if recordID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opApplyBatch, reasonIDGeneration, err)
			return "", newServiceError(opApplyBatch, reasonIDGeneration, err)
		}
		return generated, s.insertRecord(transaction, operatorID, generated, record.Fields, nowMillis)
	}

	var existing CanonicalRecord
	err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryRecordID, recordID).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// A permanent delete leaves only its tombstone; a stale edit must not bring the id back.
		tombstoned, lookupErr := s.tombstoneExists(transaction, recordID, false)
		if lookupErr != nil {
			return "", lookupErr
		}
		if tombstoned {
			return "", nil
		}
		return recordID, s.insertRecord(transaction, operatorID, recordID, record.Fields, nowMillis)
	}
	if err != nil {
		s.logError(opApplyBatch, reasonRecordLookup, err, zap.String(fieldRecordID, recordID))
		return "", newServiceError(opApplyBatch, reasonRecordLookup, err)
	}

	// Deletion is final for the canonical copy; the tombstone already told clients to drop it.
	if existing.IsDeleted {
		return "", nil
	}
	if existing.fields() == record.Fields {
		return "", nil
	}

	existing.setFields(record.Fields)
	existing.UpdateTimeMillis = nowMillis
	existing.LastOperatorID = operatorID
	if err := transaction.Save(&existing).Error; err != nil {
		s.logError(opApplyBatch, reasonRecordSave, err, zap.String(fieldRecordID, recordID))
		return "", newServiceError(opApplyBatch, reasonRecordSave, err)
	}
	return recordID, nil
}

func (s *Service) insertRecord(transaction *gorm.DB, operatorID, recordID string, fields equipment.Fields, nowMillis int64) error {
	row := CanonicalRecord{
		RecordID:         recordID,
		CreateTimeMillis: nowMillis,
		UpdateTimeMillis: nowMillis,
		LastOperatorID:   operatorID,
	}
	row.setFields(fields)
	if err := transaction.Create(&row).Error; err != nil {
		s.logError(opApplyBatch, reasonRecordSave, err, zap.String(fieldRecordID, recordID))
		return newServiceError(opApplyBatch, reasonRecordSave, err)
	}
	return nil
}

// applyDelete reports whether the canonical state or the tombstone log changed.
func (s *Service) applyDelete(transaction *gorm.DB, operatorID, recordID string, permanent bool, nowMillis int64) (bool, error) {
	var existing CanonicalRecord
	err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryRecordID, recordID).
		Take(&existing).Error
	found := true
	if errors.Is(err, gorm.ErrRecordNotFound) {
		found = false
	} else if err != nil {
		s.logError(opApplyBatch, reasonRecordLookup, err, zap.String(fieldRecordID, recordID))
		return false, newServiceError(opApplyBatch, reasonRecordLookup, err)
	}

	switch {
	case found && permanent:
		if err := transaction.Where(queryRecordID, recordID).Delete(&CanonicalRecord{}).Error; err != nil {
			s.logError(opApplyBatch, reasonRecordDelete, err, zap.String(fieldRecordID, recordID))
			return false, newServiceError(opApplyBatch, reasonRecordDelete, err)
		}
	case found && !existing.IsDeleted:
		existing.IsDeleted = true
		existing.UpdateTimeMillis = nowMillis
		existing.LastOperatorID = operatorID
		if err := transaction.Save(&existing).Error; err != nil {
			s.logError(opApplyBatch, reasonRecordSave, err, zap.String(fieldRecordID, recordID))
			return false, newServiceError(opApplyBatch, reasonRecordSave, err)
		}
	default:
		// Already soft-deleted or unknown: only append a tombstone if none of this kind exists,
		// which keeps re-pushed deletes idempotent.
		exists, lookupErr := s.tombstoneExists(transaction, recordID, permanent)
		if lookupErr != nil {
			return false, lookupErr
		}
		if exists {
			return false, nil
		}
	}

	tombstone := TombstoneRecord{
		RecordID:         recordID,
		DeleteTimeMillis: nowMillis,
		OperatorID:       operatorID,
		IsPermanent:      permanent,
	}
	if err := transaction.Create(&tombstone).Error; err != nil {
		s.logError(opApplyBatch, reasonTombstoneInsert, err, zap.String(fieldRecordID, recordID))
		return false, newServiceError(opApplyBatch, reasonTombstoneInsert, err)
	}
	return true, nil
}

func (s *Service) tombstoneExists(transaction *gorm.DB, recordID string, permanent bool) (bool, error) {
	query := transaction.Model(&TombstoneRecord{})
	if permanent {
		query = query.Where(queryPermanentForID, recordID, true)
	} else {
		query = query.Where(queryRecordID, recordID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		s.logError(opApplyBatch, reasonTombstoneLookup, err, zap.String(fieldRecordID, recordID))
		return false, newServiceError(opApplyBatch, reasonTombstoneLookup, err)
	}
	return count > 0, nil
}

// ListChanges returns live records updated after since and ids deleted after since.
// Repeated calls with the same watermark may be served from a short-lived cache.
func (s *Service) ListChanges(ctx context.Context, since equipment.Timestamp) (ChangeSet, error) {
	if s.db == nil {
		s.logError(opListChanges, reasonMissingDatabase, errMissingDatabase)
		return ChangeSet{}, newServiceError(opListChanges, reasonMissingDatabase, errMissingDatabase)
	}
	if since.IsZero() {
		since = equipment.Epoch
	}

	cacheKey := since.String()
	if cached, ok := s.cache.get(cacheKey); ok {
		return cached, nil
	}
	generation := s.cache.currentGeneration()

	sinceMillis := toMillis(since)
	var rows []CanonicalRecord
	if err := s.db.WithContext(ctx).
		Where(queryLiveUpdatedAfter, false, sinceMillis).
		Order(orderUpdateTimeAsc).
		Find(&rows).Error; err != nil {
		s.logError(opListChanges, reasonQueryFailed, err)
		return ChangeSet{}, newServiceError(opListChanges, reasonQueryFailed, err)
	}

	var tombstones []TombstoneRecord
	if err := s.db.WithContext(ctx).
		Where(queryDeletedAfter, sinceMillis).
		Order(orderTombstoneIDAsc).
		Find(&tombstones).Error; err != nil {
		s.logError(opListChanges, reasonQueryFailed, err)
		return ChangeSet{}, newServiceError(opListChanges, reasonQueryFailed, err)
	}

	changes := ChangeSet{
		Updates: make([]equipment.Record, 0, len(rows)),
		Deletes: make([]string, 0, len(tombstones)),
	}
	for _, row := range rows {
		changes.Updates = append(changes.Updates, row.toRecord())
	}
	seen := make(map[string]struct{}, len(tombstones))
	for _, tombstone := range tombstones {
		if _, duplicate := seen[tombstone.RecordID]; duplicate {
			continue
		}
		seen[tombstone.RecordID] = struct{}{}
		changes.Deletes = append(changes.Deletes, tombstone.RecordID)
	}

	s.cache.put(cacheKey, changes, generation)
	return changes.clone(), nil
}

// ListTombstones returns every tombstone recorded after since, oldest first.
func (s *Service) ListTombstones(ctx context.Context, since equipment.Timestamp) ([]equipment.Tombstone, error) {
	if s.db == nil {
		s.logError(opListChanges, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListChanges, reasonMissingDatabase, errMissingDatabase)
	}
	var rows []TombstoneRecord
	if err := s.db.WithContext(ctx).
		Where(queryDeletedAfter, toMillis(since)).
		Order(orderTombstoneIDAsc).
		Find(&rows).Error; err != nil {
		s.logError(opListChanges, reasonQueryFailed, err)
		return nil, newServiceError(opListChanges, reasonQueryFailed, err)
	}
	tombstones := make([]equipment.Tombstone, 0, len(rows))
	for _, row := range rows {
		tombstones = append(tombstones, row.toTombstone())
	}
	return tombstones, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("authority service error", attrs...)
}
