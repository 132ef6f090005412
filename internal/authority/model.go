package authority

import (
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
)

// CanonicalRecord is the authority's copy of an equipment record.
type CanonicalRecord struct {
	RecordID         string `gorm:"column:record_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:255;not null;default:''"`
	Type             string `gorm:"column:type;size:255;not null;default:''"`
	Specification    string `gorm:"column:specification;type:text;not null;default:''"`
	Quantity         int    `gorm:"column:quantity;not null;default:0"`
	Location         string `gorm:"column:location;size:255;not null;default:''"`
	Status           string `gorm:"column:status;size:64;not null;default:''"`
	Remarks          string `gorm:"column:remarks;type:text;not null;default:''"`
	Borrower         string `gorm:"column:borrower;size:255;not null;default:''"`
	Contact          string `gorm:"column:contact;size:255;not null;default:''"`
	BorrowTime       string `gorm:"column:borrow_time;size:64;not null;default:''"`
	ReturnTime       string `gorm:"column:return_time;size:64;not null;default:''"`
	CreateTimeMillis int64  `gorm:"column:create_time_ms;not null"`
	UpdateTimeMillis int64  `gorm:"column:update_time_ms;not null;index:idx_equipment_live_updated,priority:2"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false;index:idx_equipment_live_updated,priority:1"`
	LastOperatorID   string `gorm:"column:last_operator_id;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (CanonicalRecord) TableName() string {
	return "equipment"
}

// TombstoneRecord is an append-only deletion marker. Rows are never updated.
type TombstoneRecord struct {
	TombstoneID      int64  `gorm:"column:tombstone_id;primaryKey;autoIncrement"`
	RecordID         string `gorm:"column:record_id;size:190;not null;index:idx_tombstones_record"`
	DeleteTimeMillis int64  `gorm:"column:delete_time_ms;not null;index:idx_tombstones_delete_time"`
	OperatorID       string `gorm:"column:operator_id;size:190;not null;default:''"`
	IsPermanent      bool   `gorm:"column:is_permanent;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (TombstoneRecord) TableName() string {
	return "equipment_tombstones"
}

func (row CanonicalRecord) fields() equipment.Fields {
	return equipment.Fields{
		Name:          row.Name,
		Type:          row.Type,
		Specification: row.Specification,
		Quantity:      row.Quantity,
		Location:      row.Location,
		Status:        row.Status,
		Remarks:       row.Remarks,
		Borrower:      row.Borrower,
		Contact:       row.Contact,
		BorrowTime:    row.BorrowTime,
		ReturnTime:    row.ReturnTime,
	}
}

func (row *CanonicalRecord) setFields(fields equipment.Fields) {
	row.Name = fields.Name
	row.Type = fields.Type
	row.Specification = fields.Specification
	row.Quantity = fields.Quantity
	row.Location = fields.Location
	row.Status = fields.Status
	row.Remarks = fields.Remarks
	row.Borrower = fields.Borrower
	row.Contact = fields.Contact
	row.BorrowTime = fields.BorrowTime
	row.ReturnTime = fields.ReturnTime
}

// toRecord converts the row to its wire form. Canonical copies are synced by definition.
func (row CanonicalRecord) toRecord() equipment.Record {
	return equipment.Record{
		ID:         row.RecordID,
		Fields:     row.fields(),
		CreateTime: fromMillis(row.CreateTimeMillis),
		UpdateTime: fromMillis(row.UpdateTimeMillis),
		IsDeleted:  row.IsDeleted,
		IsSynced:   true,
	}
}

func (row TombstoneRecord) toTombstone() equipment.Tombstone {
	return equipment.Tombstone{
		RecordID:    row.RecordID,
		DeleteTime:  fromMillis(row.DeleteTimeMillis),
		OperatorID:  row.OperatorID,
		IsPermanent: row.IsPermanent,
	}
}

func toMillis(ts equipment.Timestamp) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Time().UnixMilli()
}

func fromMillis(value int64) equipment.Timestamp {
	return equipment.NewTimestamp(time.UnixMilli(value))
}
