package database

import (
	"errors"
	"time"

	"github.com/flowmark/flowmark/internal/gauges"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationLowercaseMetricLabels = "2026-06-14_lowercase_metric_labels"
	migrationBackfillUnknownStatus = "2026-07-02_backfill_unknown_status"
)

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

// applyMigrations runs the ordered list of additive schema repairs. Each entry
// is idempotent and forward-only; applied names are recorded so a migration
// never runs twice.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationLowercaseMetricLabels, apply: lowercaseMetricLabels},
		{name: migrationBackfillUnknownStatus, apply: backfillUnknownStatus},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// lowercaseMetricLabels normalizes metric labels written by early builds that
// stored provider-cased unit strings.
func lowercaseMetricLabels(db *gorm.DB) error {
	if err := db.Exec("UPDATE gauges SET metric = LOWER(metric) WHERE metric <> LOWER(metric)").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE gauge_readings SET metric = LOWER(metric) WHERE metric <> LOWER(metric)").Error
}

func backfillUnknownStatus(db *gorm.DB) error {
	if err := db.Model(&gauges.Gauge{}).
		Where("status IS NULL OR status = ''").
		Update("status", gauges.StatusUnknown).Error; err != nil {
		return err
	}
	return db.Model(&gauges.Reading{}).
		Where("status IS NULL OR status = ''").
		Update("status", gauges.StatusUnknown).Error
}
