package database

import (
	"fmt"

	"github.com/flowmark/flowmark/internal/gauges"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// Migration failure is fatal to startup unless resetOnMismatch is set, in
// which case the schema is dropped and rebuilt. That switch exists for
// pre-release iteration only and must stay disabled in production builds.
func OpenSQLite(path string, resetOnMismatch bool, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Cascade deletes from gauges to readings depend on FK enforcement.
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	if err := autoMigrate(db); err != nil {
		if !resetOnMismatch {
			return nil, err
		}
		if logger != nil {
			logger.Warn("schema mismatch, erasing database", zap.Error(err))
		}
		if err := eraseSchema(db); err != nil {
			return nil, err
		}
		if err := autoMigrate(db); err != nil {
			return nil, err
		}
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&gauges.Gauge{},
		&gauges.Reading{},
		&gauges.StoreMeta{},
		&migrationRecord{},
	)
}

func eraseSchema(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&gauges.Reading{},
		&gauges.Gauge{},
		&gauges.StoreMeta{},
		&migrationRecord{},
	)
}
