package database

import (
	"errors"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/authority"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillEquipmentUpdateTime = "2024-03-01_backfill_equipment_update_time"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillEquipmentUpdateTime, apply: backfillEquipmentUpdateTime},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(transaction *gorm.DB) error {
			if err := migration.apply(transaction); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return transaction.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows imported without an update time would sort before every watermark and never be pulled.
func backfillEquipmentUpdateTime(db *gorm.DB) error {
	return db.Model(&authority.CanonicalRecord{}).
		Where("update_time_ms = 0").
		Update("update_time_ms", gorm.Expr("create_time_ms")).Error
}
