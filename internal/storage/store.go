// v2
// internal/storage/store.go

// Package storage persists readings, accounts and predictions behind GORM.
// The driver (MySQL, PostgreSQL or SQLite) is chosen at open time from the
// datastore config; callers never see driver specifics.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"moldsense/internal/apperr"
	"moldsense/internal/monitor"
)

// Store owns the database handle. It satisfies monitor.EntryWriter.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to the configured database, applies pool limits and runs
// auto-migration for all models.
func Open(cfg DatastoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "storage"))

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetime) * time.Second)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("datastore_ready", slog.String("driver", cfg.Driver))
	return &Store{db: db, log: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateLogEntry persists one reading and returns the stored entry.
func (s *Store) CreateLogEntry(ctx context.Context, sourceID string, r monitor.Reading) (monitor.LogEntry, error) {
	rec := LogRecord{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   r.ObservedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return monitor.LogEntry{}, apperr.Wrap(err, apperr.KindPersistence, "create log entry")
	}
	return monitor.LogEntry{
		ID:          rec.ID,
		SourceID:    rec.SourceID,
		Temperature: rec.Temperature,
		Humidity:    rec.Humidity,
		Timestamp:   rec.Timestamp,
	}, nil
}

// ListLogEntries returns the most recent entries for a source, newest first.
// A limit of zero or less means no limit.
func (s *Store) ListLogEntries(ctx context.Context, sourceID string, limit int) ([]LogRecord, error) {
	q := s.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []LogRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, apperr.Wrap(err, apperr.KindPersistence, "list log entries")
	}
	return recs, nil
}

// RecentReadings returns up to limit persisted readings for a source in
// chronological order, shaped for the prediction prompt.
func (s *Store) RecentReadings(ctx context.Context, sourceID string, limit int) ([]monitor.Reading, error) {
	recs, err := s.ListLogEntries(ctx, sourceID, limit)
	if err != nil {
		return nil, err
	}
	readings := make([]monitor.Reading, len(recs))
	for i, rec := range recs {
		// ListLogEntries is newest-first; reverse into prompt order.
		readings[len(recs)-1-i] = monitor.Reading{
			Temperature: rec.Temperature,
			Humidity:    rec.Humidity,
			ObservedAt:  rec.Timestamp,
		}
	}
	return readings, nil
}

// UpsertUser records the account on first sight and refreshes its profile
// fields on subsequent sign-ins.
func (s *Store) UpsertUser(ctx context.Context, rec UserRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "upsert user")
	}
	return nil
}

// SavePrediction stores one assessment, assigning its UUID if unset.
func (s *Store) SavePrediction(ctx context.Context, rec *PredictionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "save prediction")
	}
	return nil
}

// ListPredictions returns stored assessments for a source, newest first.
func (s *Store) ListPredictions(ctx context.Context, sourceID string, limit int) ([]PredictionRecord, error) {
	q := s.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []PredictionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, apperr.Wrap(err, apperr.KindPersistence, "list predictions")
	}
	return recs, nil
}
