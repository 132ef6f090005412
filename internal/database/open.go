package database

import (
	"fmt"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/authority"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/config"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/localstore"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// OpenAuthority connects to the authority database and performs schema migrations.
func OpenAuthority(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if driver == config.DriverSQLite {
		if err := limitConnections(db); err != nil {
			return nil, err
		}
	}

	if err := migrateAuthority(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("authority database initialized", zap.String("driver", driver))
	}
	return db, nil
}

func migrateAuthority(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&authority.CanonicalRecord{}, &authority.TombstoneRecord{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

// OpenLocal establishes the client's SQLite connection and migrates the local schema.
func OpenLocal(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := limitConnections(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(localstore.Models()...); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Debug("local database initialized", zap.String("path", path))
	}
	return db, nil
}

func limitConnections(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	return nil
}
