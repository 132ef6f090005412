// Package localstore keeps the on-device copy of the equipment records and the
// client's persisted sync state.
package localstore

import "github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"

// LocalRecord is one row of the on-device record set. Position preserves the order in
// which the collection was last saved.
type LocalRecord struct {
	RecordID        string `gorm:"column:record_id;primaryKey;size:190;not null"`
	Position        int    `gorm:"column:position;not null;index:idx_local_equipment_position"`
	Name            string `gorm:"column:name;not null;default:''"`
	Type            string `gorm:"column:type;not null;default:''"`
	Specification   string `gorm:"column:specification;not null;default:''"`
	Quantity        int    `gorm:"column:quantity;not null;default:0"`
	Location        string `gorm:"column:location;not null;default:''"`
	Status          string `gorm:"column:status;not null;default:''"`
	Remarks         string `gorm:"column:remarks;not null;default:''"`
	Borrower        string `gorm:"column:borrower;not null;default:''"`
	Contact         string `gorm:"column:contact;not null;default:''"`
	BorrowTime      string `gorm:"column:borrow_time;not null;default:''"`
	ReturnTime      string `gorm:"column:return_time;not null;default:''"`
	CreateTime      string `gorm:"column:create_time;not null;default:''"`
	UpdateTime      string `gorm:"column:update_time;not null;default:''"`
	IsDeleted       bool   `gorm:"column:is_deleted;not null;default:false"`
	IsSynced        bool   `gorm:"column:is_synced;not null;default:false"`
	PermanentDelete bool   `gorm:"column:permanent_delete;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (LocalRecord) TableName() string {
	return "local_equipment"
}

// StateEntry is a key/value row of persisted client state.
type StateEntry struct {
	Key   string `gorm:"column:state_key;primaryKey;size:64;not null"`
	Value string `gorm:"column:state_value;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (StateEntry) TableName() string {
	return "sync_state"
}

func newLocalRecord(record equipment.Record, position int) LocalRecord {
	return LocalRecord{
		RecordID:        record.ID,
		Position:        position,
		Name:            record.Name,
		Type:            record.Type,
		Specification:   record.Specification,
		Quantity:        record.Quantity,
		Location:        record.Location,
		Status:          record.Status,
		Remarks:         record.Remarks,
		Borrower:        record.Borrower,
		Contact:         record.Contact,
		BorrowTime:      record.BorrowTime,
		ReturnTime:      record.ReturnTime,
		CreateTime:      record.CreateTime.String(),
		UpdateTime:      record.UpdateTime.String(),
		IsDeleted:       record.IsDeleted,
		IsSynced:        record.IsSynced,
		PermanentDelete: record.PermanentDelete,
	}
}

func (row LocalRecord) toRecord() (equipment.Record, error) {
	createTime, err := equipment.ParseTimestamp(row.CreateTime)
	if err != nil {
		return equipment.Record{}, err
	}
	updateTime, err := equipment.ParseTimestamp(row.UpdateTime)
	if err != nil {
		return equipment.Record{}, err
	}
	return equipment.Record{
		ID: row.RecordID,
		Fields: equipment.Fields{
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
		},
		CreateTime:      createTime,
		UpdateTime:      updateTime,
		IsDeleted:       row.IsDeleted,
		IsSynced:        row.IsSynced,
		PermanentDelete: row.PermanentDelete,
	}, nil
}

// Models lists the tables owned by this package, for schema migration.
func Models() []interface{} {
	return []interface{}{&LocalRecord{}, &StateEntry{}}
}
