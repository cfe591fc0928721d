package gauges

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAlreadySeeded indicates that the one-time gauge seed has already run
	// for this database.
	ErrAlreadySeeded = errors.New("gauges: store already seeded")
	// ErrNotSeeded indicates an operation that requires seeded gauge metadata.
	ErrNotSeeded = errors.New("gauges: store not seeded")
	// ErrNotFound indicates the requested gauge does not exist.
	ErrNotFound = errors.New("gauges: gauge not found")

	errMissingDatabase = errors.New("database handle is required")
)

const seedBatchSize = 500

// Filter narrows a gauge query. Zero values mean "no constraint".
type Filter struct {
	FavoritesOnly bool
	PrimaryOnly   bool
	Source        Source
	// Text matches against name and state, case-insensitively.
	Text string
	// Box restricts results to a latitude/longitude rectangle via the
	// composite (latitude, longitude) index.
	Box *Box
}

// InsertResult reports the outcome of an idempotent readings insert.
type InsertResult struct {
	Inserted int
	Ignored  int
}

// StoreConfig carries the dependencies for a Store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store is the persistence engine for gauges and readings. It is the only
// component that writes to the database; everything above it is a read-only
// observer apart from the sync coordinator, which drives writes through it.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// Seeded reports whether the one-time gauge seed has completed.
func (s *Store) Seeded(ctx context.Context) (bool, error) {
	var meta StoreMeta
	err := s.db.WithContext(ctx).Where("key = ?", MetaGaugesSeeded).Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read seeded flag: %w", err)
	}
	return meta.Value == "true", nil
}

// Seed bulk-inserts gauge rows and flips the persisted seeded flag in one
// transaction. The flag is checked inside the transaction so concurrent seed
// attempts cannot both commit. Surrogate ids are assigned by the autoincrement
// column in insertion order.
func (s *Store) Seed(ctx context.Context, records []Gauge) (int, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("seed: no gauge records supplied")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meta StoreMeta
		err := tx.Where("key = ?", MetaGaugesSeeded).Take(&meta).Error
		if err == nil && meta.Value == "true" {
			return ErrAlreadySeeded
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.CreateInBatches(records, seedBatchSize).Error; err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&StoreMeta{Key: MetaGaugesSeeded, Value: "true"}).Error
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("gauge store seeded", zap.Int("gauges", len(records)))
	return len(records), nil
}

// InsertReadingsIgnoringDuplicates inserts reading rows, silently skipping any
// row that conflicts on the (gauge_id, site_id, created_at, metric) unique
// key. This is what makes repeated polling idempotent: re-ingesting the same
// observation is a no-op, not an error.
func (s *Store) InsertReadingsIgnoringDuplicates(ctx context.Context, readings []Reading) (InsertResult, error) {
	return s.insertReadings(s.db.WithContext(ctx), readings)
}

func (s *Store) insertReadings(tx *gorm.DB, readings []Reading) (InsertResult, error) {
	if len(readings) == 0 {
		return InsertResult{}, nil
	}
	// Batched like Seed: a large backfill must not exceed SQLite's
	// bind-variable limit in one statement.
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&readings, seedBatchSize)
	if res.Error != nil {
		return InsertResult{}, fmt.Errorf("insert readings: %w", res.Error)
	}
	inserted := int(res.RowsAffected)
	return InsertResult{Inserted: inserted, Ignored: len(readings) - inserted}, nil
}

// CommitRefresh atomically inserts the readings fetched for a gauge and then
// advances the gauge's updated_at and status. The readings insert happens
// before the timestamp advance inside one transaction, so a concurrent reader
// never observes a fresh updated_at with the readings still missing, and a
// cancelled or failed refresh commits nothing.
func (s *Store) CommitRefresh(ctx context.Context, gaugeID int64, readings []Reading, refreshedAt time.Time) (InsertResult, error) {
	var result InsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.insertReadings(tx, readings)
		if err != nil {
			return err
		}
		res := tx.Model(&Gauge{}).Where("id = ?", gaugeID).Updates(map[string]any{
			"updated_at": refreshedAt,
			"status":     StatusOK,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return result, nil
}

// MarkRefreshFailed records a failed fetch on the gauge without touching its
// stored readings or its updated_at watermark.
func (s *Store) MarkRefreshFailed(ctx context.Context, gaugeID int64) error {
	res := s.db.WithContext(ctx).Model(&Gauge{}).Where("id = ?", gaugeID).
		Update("status", StatusError)
	if res.Error != nil {
		return fmt.Errorf("mark refresh failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GaugeByID loads a single gauge.
func (s *Store) GaugeByID(ctx context.Context, gaugeID int64) (Gauge, error) {
	var gauge Gauge
	err := s.db.WithContext(ctx).Take(&gauge, gaugeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Gauge{}, ErrNotFound
	}
	if err != nil {
		return Gauge{}, fmt.Errorf("load gauge %d: %w", gaugeID, err)
	}
	return gauge, nil
}

// Query returns gauges matching the filter, ordered by name. The bounding-box
// constraint compiles to a range scan over the composite (latitude, longitude)
// index; it is a rectangular pre-filter only.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Gauge, error) {
	query := s.db.WithContext(ctx).Model(&Gauge{})

	if filter.FavoritesOnly {
		query = query.Where("favorite = ?", true)
	}
	if filter.PrimaryOnly {
		query = query.Where("\"primary\" = ?", true)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if text := strings.TrimSpace(filter.Text); text != "" {
		pattern := "%" + strings.ToLower(text) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(state) LIKE ?", pattern, pattern)
	}
	if filter.Box != nil {
		box := *filter.Box
		query = query.Where(
			"latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
			box.MinLatitude, box.MaxLatitude, box.MinLongitude, box.MaxLongitude,
		)
	}

	var result []Gauge
	if err := query.Order("name ASC").Find(&result).Error; err != nil {
		return nil, fmt.Errorf("query gauges: %w", err)
	}
	return result, nil
}

// ReadingsForGauge returns the most recent readings for a gauge, newest first,
// capped at limit when limit is positive.
func (s *Store) ReadingsForGauge(ctx context.Context, gaugeID int64, limit int) ([]Reading, error) {
	query := s.db.WithContext(ctx).
		Where("gauge_id = ?", gaugeID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var readings []Reading
	if err := query.Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("load readings for gauge %d: %w", gaugeID, err)
	}
	return readings, nil
}

// SetFavorite flips the user-controlled favorite flag.
func (s *Store) SetFavorite(ctx context.Context, gaugeID int64, favorite bool) error {
	return s.setFlag(ctx, gaugeID, "favorite", favorite)
}

// SetPrimary flips the user-controlled pinned flag.
func (s *Store) SetPrimary(ctx context.Context, gaugeID int64, primary bool) error {
	return s.setFlag(ctx, gaugeID, "primary", primary)
}

// setFlag updates via a column map so gorm resolves and quotes the column
// itself; "primary" is SQL-reserved and must not be pre-quoted here.
func (s *Store) setFlag(ctx context.Context, gaugeID int64, column string, value bool) error {
	res := s.db.WithContext(ctx).Model(&Gauge{}).Where("id = ?", gaugeID).
		Updates(map[string]any{column: value})
	if res.Error != nil {
		return fmt.Errorf("update gauge flag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGauge removes a gauge and, through the cascade constraint, all of its
// readings. Only a full re-seed path uses this.
func (s *Store) DeleteGauge(ctx context.Context, gaugeID int64) error {
	res := s.db.WithContext(ctx).Delete(&Gauge{}, gaugeID)
	if res.Error != nil {
		return fmt.Errorf("delete gauge %d: %w", gaugeID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountGauges reports the number of stored gauges.
func (s *Store) CountGauges(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Gauge{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count gauges: %w", err)
	}
	return count, nil
}
