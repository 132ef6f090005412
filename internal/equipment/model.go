// Package equipment defines the equipment record model shared by the sync client and the
// remote authority.
package equipment

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecordID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordID = errors.New("equipment: invalid record id")
	// ErrInvalidQuantity indicates that a record quantity is negative.
	ErrInvalidQuantity = errors.New("equipment: invalid quantity")
)

// Status values used by the inventory screens. The authority stores any value verbatim.
const (
	StatusAvailable   = "available"
	StatusBorrowed    = "borrowed"
	StatusMaintenance = "maintenance"
	StatusRetired     = "retired"
)

// RecordID represents a validated record identifier.
type RecordID string

// NewRecordID validates raw input and returns a RecordID.
func NewRecordID(rawInput string) (RecordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return RecordID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordID) String() string {
	return string(id)
}

// Fields is the application payload of an equipment record. Whole-record replacement
// means the struct is always transferred and stored as a unit.
type Fields struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Specification string `json:"specification"`
	Quantity      int    `json:"quantity"`
	Location      string `json:"location"`
	Status        string `json:"status"`
	Remarks       string `json:"remarks"`
	Borrower      string `json:"borrower"`
	Contact       string `json:"contact"`
	BorrowTime    string `json:"borrowTime"`
	ReturnTime    string `json:"returnTime"`
}

// Validate reports payload values the authority refuses to store.
func (f Fields) Validate() error {
	if f.Quantity < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, f.Quantity)
	}
	return nil
}

// Record is an equipment item together with its synchronization metadata.
type Record struct {
	ID string `json:"id"`
	Fields
	CreateTime Timestamp `json:"createTime"`
	UpdateTime Timestamp `json:"updateTime"`
	IsDeleted  bool      `json:"isDeleted"`
	IsSynced   bool      `json:"isSynced"`
	// PermanentDelete asks the authority to drop the canonical record instead of soft-deleting it.
	// Only meaningful together with IsDeleted.
	PermanentDelete bool `json:"permanentDelete,omitempty"`
}

// Tombstone records a central deletion so pulling clients can drop their local copy.
type Tombstone struct {
	RecordID    string    `json:"id"`
	DeleteTime  Timestamp `json:"deleteTime"`
	OperatorID  string    `json:"operatorId"`
	IsPermanent bool      `json:"isPermanent"`
}

// SameVersion reports whether other carries the same id, payload, update time and
// deletion intent. The sync flag is ignored.
func (r Record) SameVersion(other Record) bool {
	return r.ID == other.ID &&
		r.Fields == other.Fields &&
		r.UpdateTime.Equal(other.UpdateTime) &&
		r.IsDeleted == other.IsDeleted &&
		r.PermanentDelete == other.PermanentDelete
}
