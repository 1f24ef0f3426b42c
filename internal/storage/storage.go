// Package storage keeps room metadata in Postgres so a table survives a
// server restart.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// RoomMetadata is one key of one room.
type RoomMetadata struct {
	RoomCode  string `gorm:"primaryKey;size:16"`
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing connection.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&RoomMetadata{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, logger: logger.Named("storage")}, nil
}

// Save upserts key for room code. A nil value deletes the row.
func (s *Store) Save(ctx context.Context, code, key string, value []byte) error {
	db := s.db.WithContext(ctx)
	if value == nil {
		err := db.Where("room_code = ? AND key = ?", code, key).Delete(&RoomMetadata{}).Error
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", code, key, err)
		}
		return nil
	}

	row := RoomMetadata{RoomCode: code, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_code"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", code, key, err)
	}
	s.logger.Debug("saved", zap.String("room", code), zap.String("key", key), zap.Int("bytes", len(value)))
	return nil
}

// Load returns every key stored for room code.
func (s *Store) Load(ctx context.Context, code string) (map[string][]byte, error) {
	var rows []RoomMetadata
	if err := s.db.WithContext(ctx).Where("room_code = ?", code).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s: %w", code, err)
	}
	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
