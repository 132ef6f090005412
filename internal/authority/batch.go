package authority

import (
	"errors"
	"fmt"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
)

// DefaultMaxBatchSize bounds the number of items accepted by one ApplyBatch call.
const DefaultMaxBatchSize = 50

var (
	// ErrOverSizeLimit indicates that a batch exceeds the configured item cap.
	ErrOverSizeLimit = errors.New("authority: batch exceeds size limit")
	// ErrInvalidBatch indicates that a batch item failed validation.
	ErrInvalidBatch = errors.New("authority: invalid batch item")
)

// Batch is one all-or-nothing write request from a client.
type Batch struct {
	Upserts          []equipment.Record
	Deletes          []string
	PermanentDeletes []string
}

// Size counts every item in the batch against the cap.
func (b Batch) Size() int {
	return len(b.Upserts) + len(b.Deletes) + len(b.PermanentDeletes)
}

// Empty reports whether the batch carries no items.
func (b Batch) Empty() bool {
	return b.Size() == 0
}

func (b Batch) validate(maxSize int) error {
	if b.Size() > maxSize {
		return fmt.Errorf("%w: %d items, limit %d", ErrOverSizeLimit, b.Size(), maxSize)
	}
	for index, record := range b.Upserts {
		if record.ID != "" {
			if err := checkRecordID(record.ID); err != nil {
				return fmt.Errorf("%w: upsert %d: %v", ErrInvalidBatch, index, err)
			}
		}
		if err := record.Fields.Validate(); err != nil {
			return fmt.Errorf("%w: upsert %d: %v", ErrInvalidBatch, index, err)
		}
	}
	for index, id := range b.Deletes {
		if err := checkRecordID(id); err != nil {
			return fmt.Errorf("%w: delete %d: %v", ErrInvalidBatch, index, err)
		}
	}
	for index, id := range b.PermanentDeletes {
		if err := checkRecordID(id); err != nil {
			return fmt.Errorf("%w: permanent delete %d: %v", ErrInvalidBatch, index, err)
		}
	}
	return nil
}

// checkRecordID accepts only ids already in canonical form; a padded id would be stored
// under a different key than the one clients hold.
func checkRecordID(id string) error {
	normalized, err := equipment.NewRecordID(id)
	if err != nil {
		return err
	}
	if normalized.String() != id {
		return fmt.Errorf("%w: %q has surrounding whitespace", equipment.ErrInvalidRecordID, id)
	}
	return nil
}

// ApplyResult reports per-kind counts for an applied batch.
type ApplyResult struct {
	UpdatedCount int
	DeletedCount int
	// ChangedIDs lists records whose canonical state or tombstones actually changed.
	ChangedIDs []string
}

// ChangeSet is the answer to an incremental pull.
type ChangeSet struct {
	Updates []equipment.Record
	Deletes []string
}

func (c ChangeSet) clone() ChangeSet {
	return ChangeSet{
		Updates: append([]equipment.Record(nil), c.Updates...),
		Deletes: append([]string(nil), c.Deletes...),
	}
}

// ConditionCode maps an ApplyBatch or ListChanges error to its wire condition code.
func ConditionCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOverSizeLimit):
		return equipment.CodeOverSizeLimit
	case errors.Is(err, ErrInvalidBatch):
		return equipment.CodeValidationFailed
	default:
		return equipment.CodeInternal
	}
}

// BatchFromRequest converts a wire push request. Records flagged for permanent deletion
// travel in PermanentDeletes; deleted records sent as updates are treated as soft deletes.
func BatchFromRequest(request equipment.PushRequest) Batch {
	batch := Batch{
		Deletes:          append([]string(nil), request.Deletes...),
		PermanentDeletes: append([]string(nil), request.PermanentDeletes...),
	}
	for _, record := range request.Updates {
		if record.IsDeleted {
			if record.PermanentDelete {
				batch.PermanentDeletes = append(batch.PermanentDeletes, record.ID)
			} else {
				batch.Deletes = append(batch.Deletes, record.ID)
			}
			continue
		}
		batch.Upserts = append(batch.Upserts, record)
	}
	return batch
}
